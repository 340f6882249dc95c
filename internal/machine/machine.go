// Package machine определяет идентификатор процессора (MachineIdentifier).
//
// Идентификатор стабилен для хоста: он записывается в claim-поля
// (processor_identifier) и по нему процессор после рестарта находит
// свои незавершённые захваты.
package machine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Источники machine-id в порядке приоритета.
var machineIDFiles = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
}

// idLength — сколько hex-символов machine-id входит в идентификатор.
const idLength = 12

// ID возвращает идентификатор процессора: <hostname>-<12 hex>[-<instanceName>].
func ID(instanceName string) (string, error) {
	r := resolver{
		files:    machineIDFiles,
		stateDir: stateDir,
		hostname: os.Hostname,
	}
	return r.id(instanceName)
}

type resolver struct {
	files    []string
	stateDir func() (string, error)
	hostname func() (string, error)
}

func (r resolver) id(instanceName string) (string, error) {
	host, err := r.hostname()
	if err != nil || host == "" {
		host = "localhost"
	}

	raw, err := r.machineID()
	if err != nil {
		return "", err
	}

	id := sanitize(host) + "-" + raw[:min(idLength, len(raw))]
	if name := sanitize(instanceName); name != "" {
		id += "-" + name
	}
	return id, nil
}

// machineID читает machine-id, при отсутствии — сохранённый или новый uuid.
func (r resolver) machineID() (string, error) {
	for _, path := range r.files {
		if v := readHex(path); v != "" {
			return v, nil
		}
	}

	dir, err := r.stateDir()
	if err != nil {
		return "", fmt.Errorf("resolve state dir: %w", err)
	}
	path := filepath.Join(dir, "instance-id")
	if v := readHex(path); v != "" {
		return v, nil
	}

	v := strings.ReplaceAll(uuid.New().String(), "-", "")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(v+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("persist instance id: %w", err)
	}
	return v, nil
}

// stateDir — $XDG_STATE_HOME/dynaflow или ~/.local/state/dynaflow.
func stateDir() (string, error) {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "dynaflow"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if home == "" {
		return "", errors.New("home directory is not set")
	}
	return filepath.Join(home, ".local", "state", "dynaflow"), nil
}

// readHex возвращает содержимое файла, если это непустая hex-строка.
func readHex(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	v := strings.ToLower(strings.TrimSpace(string(data)))
	if v == "" {
		return ""
	}
	for _, c := range v {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return ""
		}
	}
	return v
}

// sanitize оставляет буквы, цифры, '.', '_' и '-'.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		case r == ' ':
			return '_'
		default:
			return -1
		}
	}, strings.TrimSpace(s))
}
