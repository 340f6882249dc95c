// Package testutil поднимает Postgres, Redis и RabbitMQ в testcontainers для интеграционных тестов.
//
// Контейнеры запускаются только при DYNAFLOW_INTEGRATION=1, иначе тест пропускается.
package testutil

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// IntegrationEnv — переменная, включающая интеграционные тесты.
const IntegrationEnv = "DYNAFLOW_INTEGRATION"

var (
	pgOnce sync.Once
	pgDSN  string
	pgErr  error

	redisOnce sync.Once
	redisAddr string
	redisErr  error

	rabbitOnce sync.Once
	rabbitURL  string
	rabbitErr  error
)

// RequireIntegration пропускает тест, если интеграционные тесты выключены.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv(IntegrationEnv) != "1" {
		t.Skipf("set %s=1 to run integration tests", IntegrationEnv)
	}
}

// PostgresDSN возвращает DSN общего контейнера Postgres.
func PostgresDSN(t *testing.T) string {
	t.Helper()
	RequireIntegration(t)

	pgOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		postgresC, err := testcontainers.Run(
			ctx, "postgres:16",
			testcontainers.WithExposedPorts("5432/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForAll(
					wait.ForListeningPort("5432/tcp"),
					// Postgres пишет строку дважды: после initdb и после рестарта
					wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				).WithDeadline(2*time.Minute),
			),
			testcontainers.WithEnv(map[string]string{
				"POSTGRES_USER":     "dynaflow",
				"POSTGRES_PASSWORD": "dynaflow",
				"POSTGRES_DB":       "dynaflow_test",
			}),
		)
		if err != nil {
			pgErr = err
			return
		}

		endpoint, err := postgresC.Endpoint(ctx, "")
		if err != nil {
			_ = postgresC.Terminate(context.Background())
			pgErr = err
			return
		}

		pgDSN = fmt.Sprintf("postgres://dynaflow:dynaflow@%s/dynaflow_test?sslmode=disable", endpoint)
	})

	if pgErr != nil {
		t.Skipf("skipping postgres tests: %v", pgErr)
	}
	return pgDSN
}

// RedisAddr возвращает host:port общего контейнера Redis.
func RedisAddr(t *testing.T) string {
	t.Helper()
	RequireIntegration(t)

	redisOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		redisC, err := testcontainers.Run(
			ctx, "redis:7",
			testcontainers.WithExposedPorts("6379/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("6379/tcp"),
				wait.ForLog("Ready to accept connections"),
			),
		)
		if err != nil {
			redisErr = err
			return
		}

		endpoint, err := redisC.Endpoint(ctx, "")
		if err != nil {
			_ = redisC.Terminate(context.Background())
			redisErr = err
			return
		}

		redisAddr = endpoint
	})

	if redisErr != nil {
		t.Skipf("skipping redis tests: %v", redisErr)
	}
	return redisAddr
}

// RabbitURL возвращает AMQP URL общего контейнера RabbitMQ.
func RabbitURL(t *testing.T) string {
	t.Helper()
	RequireIntegration(t)

	rabbitOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		rabbitC, err := testcontainers.Run(
			ctx, "rabbitmq:3.13",
			testcontainers.WithExposedPorts("5672/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForAll(
					wait.ForListeningPort("5672/tcp"),
					wait.ForLog("Server startup complete"),
				).WithDeadline(2*time.Minute),
			),
			// guest пускают только с localhost
			testcontainers.WithEnv(map[string]string{
				"RABBITMQ_DEFAULT_USER": "dynaflow",
				"RABBITMQ_DEFAULT_PASS": "dynaflow",
			}),
		)
		if err != nil {
			rabbitErr = err
			return
		}

		endpoint, err := rabbitC.Endpoint(ctx, "")
		if err != nil {
			_ = rabbitC.Terminate(context.Background())
			rabbitErr = err
			return
		}

		rabbitURL = fmt.Sprintf("amqp://dynaflow:dynaflow@%s/", endpoint)
	})

	if rabbitErr != nil {
		t.Skipf("skipping rabbitmq tests: %v", rabbitErr)
	}
	return rabbitURL
}
