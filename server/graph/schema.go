package graph

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"github.com/99designs/gqlgen/graphql/introspection"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

//go:embed schema.graphqls
var sourceSchema string

var parsedSchema = gqlparser.MustLoadSchema(&ast.Source{
	Name:  "schema.graphqls",
	Input: sourceSchema,
})

var errIntrospectionDisabled = errors.New("introspection disabled")

const queryType = "Query"

// object is a resolved GraphQL object, keyed by schema field name
type object map[string]any

// executableSchema serves the read API schema.
// Root fields are resolved by the Resolver, and the resolved objects
// are projected over the requested selection sets
type executableSchema struct {
	schema   *ast.Schema
	resolver *Resolver
}

// NewExecutableSchema creates the executable read API schema
func NewExecutableSchema(resolver *Resolver) graphql.ExecutableSchema {
	return &executableSchema{
		schema:   parsedSchema,
		resolver: resolver,
	}
}

func (e *executableSchema) Schema() *ast.Schema {
	return e.schema
}

// Complexity leaves every field at the default complexity
func (e *executableSchema) Complexity(
	_ context.Context,
	_, _ string,
	_ int,
	_ map[string]any,
) (int, bool) {
	return 0, false
}

func (e *executableSchema) Exec(ctx context.Context) graphql.ResponseHandler {
	opCtx := graphql.GetOperationContext(ctx)

	if opCtx.Operation.Operation != ast.Query {
		return graphql.OneShot(
			graphql.ErrorResponse(ctx, "unsupported operation: %s", opCtx.Operation.Operation),
		)
	}

	ex := &execution{
		schema:   e.schema,
		resolver: e.resolver,
		opCtx:    opCtx,
	}

	data := ex.query(ctx)

	return graphql.OneShot(&graphql.Response{
		Data:   data,
		Errors: ex.errors,
	})
}

// execution is the state of a single query operation
type execution struct {
	schema   *ast.Schema
	resolver *Resolver
	opCtx    *graphql.OperationContext

	errors gqlerror.List
}

func (ex *execution) query(ctx context.Context) json.RawMessage {
	var (
		buf    bytes.Buffer
		fields = graphql.CollectFields(ex.opCtx, ex.opCtx.Operation.SelectionSet, []string{queryType})
	)

	buf.WriteByte('{')

	for i, field := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}

		writeKey(&buf, field.Alias)

		value, err := ex.resolveRoot(ctx, field)
		if err != nil {
			ex.errors = append(ex.errors, &gqlerror.Error{
				Message: err.Error(),
				Path:    ast.Path{ast.PathName(field.Alias)},
			})

			// A failed non-null root field nulls the whole response
			if field.Definition.Type.NonNull {
				return json.RawMessage("null")
			}

			buf.WriteString("null")

			continue
		}

		ex.write(&buf, value, field.Definition.Type, field.Selections)
	}

	buf.WriteByte('}')

	return buf.Bytes()
}

func (ex *execution) resolveRoot(ctx context.Context, field graphql.CollectedField) (any, error) {
	args := field.ArgumentMap(ex.opCtx.Variables)

	switch field.Name {
	case "__typename":
		return queryType, nil
	case "__schema":
		if ex.opCtx.DisableIntrospection {
			return nil, errIntrospectionDisabled
		}

		return introspection.WrapSchema(ex.schema), nil
	case "__type":
		if ex.opCtx.DisableIntrospection {
			return nil, errIntrospectionDisabled
		}

		name, _ := args["name"].(string)

		def := ex.schema.Types[name]
		if def == nil {
			return nil, nil
		}

		return introspection.WrapTypeFromDef(ex.schema, def), nil
	case "listings":
		return ex.resolver.Listings(ctx, args)
	case "rates":
		return ex.resolver.Rates(ctx, args)
	case "runs":
		return ex.resolver.Runs(ctx, args)
	case "latestRun":
		return ex.resolver.LatestRun(ctx)
	case "ladder":
		return ex.resolver.Ladder(ctx, args)
	default:
		return nil, gqlerror.Errorf("unknown field %s", field.Name)
	}
}

// write encodes the value as the given schema type
func (ex *execution) write(buf *bytes.Buffer, value any, typ *ast.Type, sel ast.SelectionSet) {
	if typ.Elem != nil {
		ex.writeList(buf, value, typ, sel)

		return
	}

	if isNil(value) {
		buf.WriteString("null")

		return
	}

	def := ex.schema.Types[typ.Name()]
	if def != nil && def.Kind == ast.Object {
		ex.writeObject(buf, value, def, sel)

		return
	}

	writeLeaf(buf, value)
}

func (ex *execution) writeList(buf *bytes.Buffer, value any, typ *ast.Type, sel ast.SelectionSet) {
	rv := reflect.ValueOf(value)

	if value == nil || rv.Kind() != reflect.Slice || rv.IsNil() {
		if typ.NonNull {
			buf.WriteString("[]")
		} else {
			buf.WriteString("null")
		}

		return
	}

	buf.WriteByte('[')

	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			buf.WriteByte(',')
		}

		ex.write(buf, rv.Index(i).Interface(), typ.Elem, sel)
	}

	buf.WriteByte(']')
}

func (ex *execution) writeObject(buf *bytes.Buffer, value any, def *ast.Definition, sel ast.SelectionSet) {
	fields := graphql.CollectFields(ex.opCtx, sel, []string{def.Name})

	buf.WriteByte('{')

	for i, field := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}

		writeKey(buf, field.Alias)

		if field.Name == "__typename" {
			writeLeaf(buf, def.Name)

			continue
		}

		ex.write(
			buf,
			fieldValue(value, field.Name, field.Definition, field.ArgumentMap(ex.opCtx.Variables)),
			field.Definition.Type,
			field.Selections,
		)
	}

	buf.WriteByte('}')
}

// fieldValue reads a field off a resolved object.
// Introspection objects are read through their methods and fields
func fieldValue(value any, name string, def *ast.FieldDefinition, args map[string]any) any {
	if obj, ok := value.(object); ok {
		return obj[name]
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Pointer {
		ptr := reflect.New(rv.Type())
		ptr.Elem().Set(rv)

		rv = ptr
	}

	goName := strings.ToUpper(name[:1]) + name[1:]

	if method := rv.MethodByName(goName); method.IsValid() {
		in := make([]reflect.Value, method.Type().NumIn())

		for i := range in {
			paramType := method.Type().In(i)
			in[i] = reflect.Zero(paramType)

			if i >= len(def.Arguments) {
				continue
			}

			arg, ok := args[def.Arguments[i].Name]
			if !ok || arg == nil {
				continue
			}

			if av := reflect.ValueOf(arg); av.Type().ConvertibleTo(paramType) {
				in[i] = av.Convert(paramType)
			}
		}

		out := method.Call(in)
		if len(out) == 0 {
			return nil
		}

		return out[0].Interface()
	}

	if elem := rv.Elem(); elem.Kind() == reflect.Struct {
		if f := elem.FieldByName(goName); f.IsValid() && f.CanInterface() {
			return f.Interface()
		}
	}

	return nil
}

func writeKey(buf *bytes.Buffer, key string) {
	buf.WriteByte('"')
	buf.WriteString(key)
	buf.WriteString(`":`)
}

func writeLeaf(buf *bytes.Buffer, value any) {
	if t, ok := value.(time.Time); ok {
		graphql.MarshalTime(t).MarshalGQL(buf)

		return
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		buf.WriteString("null")

		return
	}

	buf.Write(encoded)
}

func isNil(value any) bool {
	if value == nil {
		return true
	}

	switch rv := reflect.ValueOf(value); rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
