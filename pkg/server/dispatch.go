package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/jiayi-1994/ovn-provider/pkg/apierr"
)

// Pattern segments
const (
	// Wildcard matches any single path element.
	Wildcard = "*"
	// parameterKey is the child holding the {name} segment of a node.
	parameterKey = "#PARAMETER"
)

// Params holds the values of the {name} segments of a matched path.
type Params map[string]string

// node is one level of the dispatch tree. Constant segments, the wildcard
// and the parameter segment are all children; handlers are the #VALUE leaf.
type node[H any] struct {
	children  map[string]*node[H]
	paramName string
	handlers  map[string]H
}

func newNode[H any]() *node[H] {
	return &node[H]{children: map[string]*node[H]{}}
}

// Tree routes a method and a split path to a handler. Patterns are
// registered at startup; registration errors panic.
type Tree[H any] struct {
	root *node[H]
}

// NewTree creates an empty Tree.
func NewTree[H any]() *Tree[H] {
	return &Tree[H]{root: newNode[H]()}
}

// Register adds h for method on pattern. pattern is a slash separated list
// of constant segments, "*" and "{name}" parameters; "" is the root.
func (t *Tree[H]) Register(method, pattern string, h H) {
	n := t.root
	seen := map[string]bool{}
	for _, seg := range splitPath(pattern) {
		key, name := seg, ""
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			key, name = parameterKey, seg[1:len(seg)-1]
			if name == "" || seen[name] {
				panic(fmt.Sprintf("invalid or duplicate parameter %q in %s", seg, pattern))
			}
			seen[name] = true
		}
		child, ok := n.children[key]
		if !ok {
			child = newNode[H]()
			child.paramName = name
			n.children[key] = child
		} else if key == parameterKey && child.paramName != name {
			panic(fmt.Sprintf("parameter %q of %s conflicts with {%s}", seg, pattern, child.paramName))
		}
		n = child
	}
	if n.handlers == nil {
		n.handlers = map[string]H{}
	}
	if _, ok := n.handlers[method]; ok {
		panic(fmt.Sprintf("duplicate handler for %s %s", method, pattern))
	}
	n.handlers[method] = h
}

// Match finds the handler of method for path. Constant segments win over
// parameters, parameters over the wildcard.
func (t *Tree[H]) Match(method string, path []string) (H, Params, error) {
	var zero H
	params := Params{}
	n := t.root.match(path, params)
	if n == nil {
		return zero, nil, apierr.New(apierr.PathNotFound, "Incorrect path: /%s", strings.Join(path, "/"))
	}
	h, ok := n.handlers[method]
	if !ok {
		return zero, nil, apierr.New(apierr.MethodNotAllowed, "Method %s is not allowed on /%s", method, strings.Join(path, "/"))
	}
	return h, params, nil
}

func (n *node[H]) match(path []string, params Params) *node[H] {
	if len(path) == 0 {
		if n.handlers == nil {
			return nil
		}
		return n
	}
	seg, rest := path[0], path[1:]
	if child, ok := n.children[seg]; ok && seg != parameterKey && seg != Wildcard {
		if found := child.match(rest, params); found != nil {
			return found
		}
	}
	if child, ok := n.children[parameterKey]; ok {
		if found := child.match(rest, params); found != nil {
			params[child.paramName] = seg
			return found
		}
	}
	if child, ok := n.children[Wildcard]; ok {
		return child.match(rest, params)
	}
	return nil
}

// splitPath splits a URL path into its non-empty elements.
func splitPath(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
}

// defaultStatus is the status of a successful response to method.
func defaultStatus(method string) int {
	switch method {
	case http.MethodPost:
		return http.StatusCreated
	case http.MethodDelete:
		return http.StatusNoContent
	}
	return http.StatusOK
}
