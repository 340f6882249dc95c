// Package engine строит задачи flow по описанию его типа.
//
// Включает:
//   - definition.go — разбор и проверка definition типов flow
//   - builder.go    — построители задач (sequence, webhook) и их реестр
//   - template.go   — рендеринг Go templates в параметрах задач ({{ .Flow.Subject }})
//
// Engine не обращается к хранилищу: построитель получает flow и его тип
// и возвращает упорядоченный список TaskSpec.
package engine
