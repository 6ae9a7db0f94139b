// Package elements holds the interfaces shared by the engine and the
// observability packages.
package elements

type Element interface {
	Kind() uint64
	Id() string
}

type NamedElement interface {
	Element
	Name() string
}
