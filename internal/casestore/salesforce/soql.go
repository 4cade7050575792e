package salesforce

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/claims-fulfillment/internal/casestore"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// BuildSOQL renders a query. Field and entity names are validated and string
// literals are escaped.
func BuildSOQL(q casestore.Query) (string, error) {
	if !identifier.MatchString(q.Entity) {
		return "", fmt.Errorf("salesforce: invalid entity %q", q.Entity)
	}
	fields, err := fieldList(q.Fields)
	if err != nil {
		return "", err
	}
	if q.Include != nil {
		sub, err := subquery(*q.Include)
		if err != nil {
			return "", err
		}
		fields += ", " + sub
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", fields, q.Entity)
	if err := writeTail(&b, q.Where, q.OrderBy, q.Limit); err != nil {
		return "", err
	}
	return b.String(), nil
}

func subquery(inc casestore.Include) (string, error) {
	if !identifier.MatchString(inc.Relationship) {
		return "", fmt.Errorf("salesforce: invalid relationship %q", inc.Relationship)
	}
	fields, err := fieldList(inc.Fields)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "(SELECT %s FROM %s", fields, inc.Relationship)
	if err := writeTail(&b, inc.Where, inc.OrderBy, inc.Limit); err != nil {
		return "", err
	}
	b.WriteString(")")
	return b.String(), nil
}

func fieldList(fields []string) (string, error) {
	if len(fields) == 0 {
		return "Id", nil
	}
	for _, f := range fields {
		if !identifier.MatchString(f) {
			return "", fmt.Errorf("salesforce: invalid field %q", f)
		}
	}
	return strings.Join(fields, ", "), nil
}

func writeTail(b *strings.Builder, where []casestore.Condition, order *casestore.Order, limit int) error {
	for i, cond := range where {
		if !identifier.MatchString(cond.Field) {
			return fmt.Errorf("salesforce: invalid field %q", cond.Field)
		}
		lit, err := literal(cond.Value)
		if err != nil {
			return err
		}
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(b, "%s %s %s", cond.Field, cond.Op, lit)
	}
	if order != nil {
		if !identifier.MatchString(order.Field) {
			return fmt.Errorf("salesforce: invalid field %q", order.Field)
		}
		dir := "ASC"
		if order.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(b, " ORDER BY %s %s", order.Field, dir)
	}
	if limit > 0 {
		fmt.Fprintf(b, " LIMIT %d", limit)
	}
	return nil
}

var soqlEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\r", `\r`, "\t", `\t`, `"`, `\"`)

func literal(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "null", nil
	case string:
		return "'" + soqlEscaper.Replace(val) + "'", nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case casestore.DateValue:
		return val.String(), nil
	case time.Time:
		return val.UTC().Format(time.RFC3339), nil
	default:
		return "", fmt.Errorf("salesforce: unsupported literal type %T", v)
	}
}
