package templates

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aymerick/raymond"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
)

var registerOnce sync.Once

// Init registers the custom Handlebars helpers. Safe to call more than
// once; raymond panics on duplicate registration.
func Init() {
	registerOnce.Do(registerHelpers)
}

func registerHelpers() {
	raymond.RegisterHelper("uuid", func() string {
		return uuid.New().String()
	})

	// current timestamp helper: {{now}} or {{now format="unix"}}
	raymond.RegisterHelper("now", func(options *raymond.Options) string {
		now := time.Now().UTC()
		switch options.HashStr("format") {
		case "unix":
			return fmt.Sprintf("%d", now.Unix())
		case "epoch":
			return fmt.Sprintf("%d", now.UnixMilli())
		case "date":
			return now.Format("2006-01-02")
		default:
			return now.Format(time.RFC3339)
		}
	})

	// faker helper backed by gofakeit: {{faker "Name.full_name"}}
	raymond.RegisterHelper("faker", func(key string) string {
		r := gofakeit.New(0)

		switch key {
		case "Name.first_name":
			return r.FirstName()
		case "Name.last_name":
			return r.LastName()
		case "Name.full_name":
			return r.Name()
		case "Internet.email":
			return r.Email()
		case "Internet.url":
			return r.URL()
		case "Address.city":
			return r.City()
		case "Address.street":
			return r.Street()
		case "Address.country":
			return r.Country()
		case "Phone.number":
			return r.Phone()
		case "Company.name":
			return r.Company()
		case "Commerce.product":
			return r.ProductName()
		case "Commerce.price":
			return fmt.Sprintf("%.2f", r.Price(1, 500))
		default:
			return key
		}
	})

	raymond.RegisterHelper("randomInt", func(options *raymond.Options) string {
		lower := toInt(options.HashProp("lower"), 0)
		upper := toInt(options.HashProp("upper"), 100)
		if lower > upper {
			lower, upper = upper, lower
		}
		return fmt.Sprintf("%d", gofakeit.Number(lower, upper))
	})
}

func toInt(v interface{}, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		var parsed int
		if _, err := fmt.Sscanf(n, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return def
}

// Render parses and executes a Handlebars template against the context.
// On any template error the input is returned unchanged; scenario content
// that merely looks like a template must not break a run.
func Render(input string, context map[string]string) string {
	if input == "" || !strings.Contains(input, "{{") {
		return input
	}
	Init()

	tmpl, err := raymond.Parse(input)
	if err != nil {
		return input
	}
	out, err := tmpl.Exec(context)
	if err != nil {
		return input
	}
	return out
}

// StaticContext builds the template context available before execution:
// environment variables, a unique RUN_ID, DATASET_DIR and the dataset's
// user-defined variables (themselves template-rendered).
func StaticContext(datasetPath string, variables map[string]string) map[string]string {
	ctx := make(map[string]string)
	for _, env := range os.Environ() {
		if k, v, ok := strings.Cut(env, "="); ok {
			ctx[k] = v
		}
	}

	ctx["RUN_ID"] = uuid.New().String()
	ctx["TEMP_DIR"] = os.TempDir()
	if datasetPath != "" {
		if abs, err := filepath.Abs(datasetPath); err == nil {
			ctx["DATASET_DIR"] = filepath.Dir(abs)
		}
	}

	for k, v := range variables {
		ctx[k] = Render(v, ctx)
	}
	return ctx
}
