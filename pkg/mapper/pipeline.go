package mapper

import (
	"github.com/samber/lo"
)

// Operation is one engine call wrapped by the request pipeline. Req is the
// decoded payload and View what the engine returns.
type Operation[Req any, View any] struct {
	// Key wraps both the request and the response object. Empty for
	// payloads that are not wrapped, such as router interfaces.
	Key string
	// Keys lists the accepted payload keys.
	Keys Keys
	// Validate checks the decoded request. Optional.
	Validate func(req *Req, fields Fields) error
	// Call converts the request into engine arguments and invokes the
	// engine.
	Call func(req *Req, fields Fields) (View, error)
	// Render builds the response object of the view.
	Render func(View) interface{}
}

// Run decodes body and pushes it through op.
func Run[Req any, View any](op Operation[Req, View], body []byte) (interface{}, error) {
	req := new(Req)
	fields, err := Decode(body, op.Key, op.Keys, req)
	if err != nil {
		return nil, err
	}
	if op.Validate != nil {
		if err := op.Validate(req, fields); err != nil {
			return nil, err
		}
	}
	view, err := op.Call(req, fields)
	if err != nil {
		return nil, err
	}
	return wrap(op.Key, op.Render(view)), nil
}

// One renders a single view under key.
func One[View any](key string, view View, err error, render func(View) interface{}) (interface{}, error) {
	if err != nil {
		return nil, err
	}
	return wrap(key, render(view)), nil
}

// List renders views as a list under key. An empty result renders as an
// empty list, never as null.
func List[View any](key string, views []View, err error, render func(View) interface{}) (interface{}, error) {
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{key: lo.Map(views, func(v View, _ int) interface{} { return render(v) })}, nil
}

func wrap(key string, v interface{}) interface{} {
	if key == "" {
		return v
	}
	return map[string]interface{}{key: v}
}
