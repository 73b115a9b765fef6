package mcptag

import (
	"fmt"
	"sort"
	"time"

	"github.com/dop251/goja"

	"github.com/1mcp-app/agent/internal/errs"
)

// budget bounds how long a compiled advanced() expression may run.
const budget = 5 * time.Millisecond

// AdmitsString evaluates a raw JS boolean expression (e.g.
// `tags.includes("db") && !tags.includes("web")`) against tags, for
// advanced() filters that arrive pre-compiled as source text rather
// than as an {and,or,not,term} Expr tree.
func AdmitsString(source string, tags map[string]bool) (bool, error) {
	names := make([]string, 0, len(tags))
	for t, ok := range tags {
		if ok {
			names = append(names, t)
		}
	}
	sort.Strings(names)

	vm := goja.New()
	if err := vm.Set("tags", names); err != nil {
		return false, errs.New(errs.InternalErr, "mcptag.AdmitsString", err)
	}

	timer := time.AfterFunc(budget, func() {
		vm.Interrupt("advanced tag expression exceeded its time budget")
	})
	defer timer.Stop()

	v, err := vm.RunString(source)
	if err != nil {
		return false, errs.New(errs.InvalidRequest, "mcptag.AdmitsString", fmt.Errorf("tag expression %q: %w", source, err))
	}
	return v.ToBoolean(), nil
}

// Compile turns an {and,or,not,term} Expr into the equivalent JS source
// using the "tags" array contract AdmitsString expects, so a parsed AST
// and a hand-written expression string evaluate identically.
func Compile(e Expr) string {
	switch {
	case e.Term != "":
		return fmt.Sprintf("tags.includes(%q)", e.Term)
	case e.Not != nil:
		return "!(" + Compile(*e.Not) + ")"
	case len(e.And) > 0:
		return joinParts(e.And, "&&")
	case len(e.Or) > 0:
		return joinParts(e.Or, "||")
	default:
		return "false"
	}
}

func joinParts(parts []Expr, op string) string {
	out := "("
	for i, p := range parts {
		if i > 0 {
			out += " " + op + " "
		}
		out += Compile(p)
	}
	return out + ")"
}
