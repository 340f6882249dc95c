package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/shaiso/dynaflow/internal/domain"
)

// Context — контекст для рендеринга шаблонов.
//
// Используется в Go templates для доступа к данным:
//   - {{ .Flow.Code }}, {{ .Flow.Subject }}
//   - {{ .Type.Name }}
//   - {{ .Env.VAR_NAME }}
//   - {{ .Data.field }} (только для transform)
type Context struct {
	// Flow — данные flow, для которого строятся задачи.
	Flow FlowContext `json:"flow"`

	// Type — данные типа flow.
	Type TypeContext `json:"type"`

	// Env — переменные окружения с префиксом EnvPrefix (без префикса).
	Env map[string]string `json:"env"`

	// Data — произвольные данные (param_2 задачи transform).
	Data any `json:"data,omitempty"`
}

// FlowContext — поля flow, доступные шаблону.
type FlowContext struct {
	Code       string `json:"code"`
	Subject    string `json:"subject"`
	RequestKey string `json:"request_key"`
	Priority   int    `json:"priority"`
}

// TypeContext — поля типа flow, доступные шаблону.
type TypeContext struct {
	Name   string `json:"name"`
	Lookup string `json:"lookup"`
}

// EnvPrefix — префикс переменных окружения, видимых шаблонам.
const EnvPrefix = "DYNAFLOW_ENV_"

// NewContext создаёт контекст для flow и его типа.
func NewContext(flow *domain.Flow, flowType *domain.FlowType, env map[string]string) *Context {
	if env == nil {
		env = make(map[string]string)
	}
	ctx := &Context{Env: env}
	if flow != nil {
		ctx.Flow = FlowContext{
			Code:       flow.Code.String(),
			Subject:    flow.SubjectCode,
			RequestKey: flow.RequestKey,
			Priority:   flow.PriorityLevel,
		}
	}
	if flowType != nil {
		ctx.Type = TypeContext{
			Name:   flowType.Name,
			Lookup: string(flowType.Lookup),
		}
	}
	return ctx
}

// NewDataContext создаёт контекст только с данными.
func NewDataContext(data any, env map[string]string) *Context {
	ctx := NewContext(nil, nil, env)
	ctx.Data = data
	return ctx
}

// EnvFromOS собирает переменные окружения с префиксом EnvPrefix.
func EnvFromOS() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		env[strings.TrimPrefix(key, EnvPrefix)] = value
	}
	return env
}

// templateFuncs — дополнительные функции для шаблонов.
var templateFuncs = template.FuncMap{
	// json — сериализует значение в JSON строку
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// default — возвращает значение по умолчанию, если первый аргумент пустой
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	// coalesce — возвращает первое непустое значение
	"coalesce": func(values ...any) any {
		for _, v := range values {
			if v != nil {
				if s, ok := v.(string); ok && s == "" {
					continue
				}
				return v
			}
		}
		return nil
	},

	// toJSON — алиас для json
	"toJSON": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	},

	// fromJSON — парсит JSON строку
	"fromJSON": func(s string) any {
		var result any
		if err := json.Unmarshal([]byte(s), &result); err != nil {
			return nil
		}
		return result
	},

	// join — объединяет слайс строк
	"join": func(sep string, items []string) string {
		return strings.Join(items, sep)
	},

	// split — разбивает строку на слайс
	"split": func(sep, s string) []string {
		return strings.Split(s, sep)
	},

	// contains — проверяет, содержит ли строка подстроку
	"contains": strings.Contains,

	// hasPrefix — проверяет префикс строки
	"hasPrefix": strings.HasPrefix,

	// hasSuffix — проверяет суффикс строки
	"hasSuffix": strings.HasSuffix,

	// lower — приводит к нижнему регистру
	"lower": strings.ToLower,

	// upper — приводит к верхнему регистру
	"upper": strings.ToUpper,

	// trim — удаляет пробелы по краям
	"trim": strings.TrimSpace,

	// replace — заменяет подстроку
	"replace": strings.ReplaceAll,
}

func parseTemplate(tmpl string) (*template.Template, error) {
	return template.New("").Funcs(templateFuncs).Parse(tmpl)
}

// Render рендерит строковый шаблон с контекстом.
//
// Шаблон может содержать Go template выражения:
//
//	{{ .Flow.Subject }}
//	{{ .Data.items | json }}
//	{{ if eq .Type.Name "nightly" }}...{{ end }}
func Render(tmpl string, ctx *Context) (string, error) {
	// Проверяем, содержит ли строка шаблонные выражения
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := parseTemplate(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	return buf.String(), nil
}

// RenderValue рендерит произвольное значение.
// Рекурсивно обрабатывает map и slice.
func RenderValue(value any, ctx *Context) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch v := value.(type) {
	case string:
		return Render(v, ctx)

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			rendered, err := RenderValue(val, ctx)
			if err != nil {
				return nil, err
			}
			result[key] = rendered
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			rendered, err := RenderValue(val, ctx)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	case map[string]string:
		result := make(map[string]string, len(v))
		for key, val := range v {
			rendered, err := Render(val, ctx)
			if err != nil {
				return nil, err
			}
			result[key] = rendered
		}
		return result, nil

	case []string:
		result := make([]string, len(v))
		for i, val := range v {
			rendered, err := Render(val, ctx)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	default:
		// Для остальных типов (int, float, bool) возвращаем как есть
		return value, nil
	}
}

// RenderCondition рендерит и вычисляет условие.
// Возвращает true, если условие выполняется.
func RenderCondition(condition string, ctx *Context) (bool, error) {
	if condition == "" {
		return true, nil
	}

	// Оборачиваем условие в if, чтобы получить bool
	tmpl := fmt.Sprintf(`{{if %s}}true{{else}}false{{end}}`, condition)

	result, err := Render(tmpl, ctx)
	if err != nil {
		return false, err
	}

	return result == "true", nil
}
