// Package analysis computes canonical symbol names for Go types and SSA
// functions. Rule files, the program model and reports all refer to symbols
// by these names.
package analysis

import (
	"go/types"
	"strings"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/tools/go/ssa"
)

// NameCache caches canonical names. It is safe for concurrent use.
type NameCache struct {
	objCache  *xsync.Map[types.Object, string]
	typeCache *xsync.Map[types.Type, string]
	funcCache *xsync.Map[*ssa.Function, string]
}

func NewNameCache() *NameCache {
	return &NameCache{
		objCache:  xsync.NewMap[types.Object, string](),
		typeCache: xsync.NewMap[types.Type, string](),
		funcCache: xsync.NewMap[*ssa.Function, string](),
	}
}

// FuncName returns the canonical name of an SSA function, the spelling of
// ssa.Function.String: "pkgpath.Name" for functions, "(*pkgpath.Type).Name"
// for methods, "pkgpath.main$1" for closures and "pkgpath.Map[int]" for
// generic instances. For declared functions it agrees with ObjectName.
func (c *NameCache) FuncName(fn *ssa.Function) string {
	if fn == nil {
		return ""
	}
	if name, ok := c.funcCache.Load(fn); ok {
		return name
	}
	name := fn.String()
	c.funcCache.Store(fn, name)
	return name
}

// ObjectName generates a canonical name for an Object.
// For functions, returns packagePath.Name, or packagePath.Name[T] for generics.
// For methods, the receiver type is parenthesized, e.g. "(*sync.Once).Do" or
// "(net/http.Handler).ServeHTTP".
func (c *NameCache) ObjectName(obj types.Object) string {
	if obj == nil {
		return ""
	}
	name, ok := c.objCache.Load(obj)
	if ok {
		return name
	}
	name = c.computeObjectName(obj)
	c.objCache.Store(obj, name)
	return name
}

// TypeName generates a canonical name for a types.Type.
// For named types, returns packagePath.TypeName[TypeArgs] (if generic).
// For pointer types, returns *packagePath.TypeName.
// For other types, returns the string representation.
func (c *NameCache) TypeName(typ types.Type) string {
	if typ == nil {
		return ""
	}
	name, ok := c.typeCache.Load(typ)
	if ok {
		return name
	}
	name = c.computeTypeName(typ)
	c.typeCache.Store(typ, name)
	return name
}

func (c *NameCache) computeObjectName(obj types.Object) string {
	var builder strings.Builder
	builder.Grow(128)

	if fn, ok := obj.(*types.Func); ok {
		sig, _ := fn.Type().(*types.Signature)
		if sig != nil && sig.Recv() != nil {
			builder.WriteByte('(')
			builder.WriteString(c.TypeName(sig.Recv().Type()))
			builder.WriteString(").")
			builder.WriteString(fn.Name())
			return builder.String()
		}
		writePackage(&builder, obj)
		builder.WriteString(obj.Name())
		if sig != nil {
			formatTypeParamsToBuilder(&builder, sig.TypeParams())
		}
		return builder.String()
	}

	writePackage(&builder, obj)
	builder.WriteString(obj.Name())
	return builder.String()
}

func writePackage(builder *strings.Builder, obj types.Object) {
	if pkg := obj.Pkg(); pkg != nil {
		builder.WriteString(pkg.Path())
		builder.WriteByte('.')
	}
}

func (c *NameCache) computeTypeName(typ types.Type) string {
	if ptr, ok := typ.(*types.Pointer); ok {
		elemName := c.TypeName(ptr.Elem())
		if elemName == "" {
			return ""
		}
		return "*" + elemName
	}

	// Aliases are named by what they stand for.
	if alias, ok := typ.(*types.Alias); ok {
		return c.TypeName(types.Unalias(alias))
	}

	if named, ok := typ.(*types.Named); ok {
		obj := named.Obj()
		var builder strings.Builder
		builder.Grow(128)
		if pkg := obj.Pkg(); pkg != nil {
			builder.WriteString(pkg.Path())
			builder.WriteByte('.')
		}
		builder.WriteString(getGenericTypeName(named))
		return builder.String()
	}

	return typ.String()
}

// getGenericTypeName returns the bare type name with its type arguments, or
// its type parameters for an uninstantiated generic type.
func getGenericTypeName(named *types.Named) string {
	typeName := named.Obj().Name()
	if named.TypeArgs() != nil && named.TypeArgs().Len() > 0 {
		return typeName + formatTypeArgs(named.TypeArgs())
	}
	if named.TypeParams() != nil && named.TypeParams().Len() > 0 {
		var builder strings.Builder
		builder.WriteString(typeName)
		formatTypeParamsToBuilder(&builder, named.TypeParams())
		return builder.String()
	}
	return typeName
}

func formatTypeParamsToBuilder(builder *strings.Builder, typeParams *types.TypeParamList) {
	if typeParams == nil || typeParams.Len() == 0 {
		return
	}
	builder.WriteByte('[')
	for i := range typeParams.Len() {
		if i > 0 {
			builder.WriteString(", ")
		}
		builder.WriteString(typeParams.At(i).Obj().Name())
	}
	builder.WriteByte(']')
}

func formatTypeArgs(typeArgs *types.TypeList) string {
	var builder strings.Builder
	builder.Grow(32)
	builder.WriteByte('[')
	for i := range typeArgs.Len() {
		if i > 0 {
			builder.WriteString(", ")
		}
		builder.WriteString(typeArgs.At(i).String())
	}
	builder.WriteByte(']')
	return builder.String()
}

// SplitTypeName splits a canonical type name into its package path and bare
// name, reporting whether it denotes a pointer. It is the inverse of TypeName
// for non-generic named types.
func SplitTypeName(name string) (pkgPath, typeName string, pointer bool) {
	if rest, ok := strings.CutPrefix(name, "*"); ok {
		name, pointer = rest, true
	}
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return "", name, pointer
	}
	return name[:i], name[i+1:], pointer
}
