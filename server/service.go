package server

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"echostream/core"
	"echostream/errs"
	"echostream/message"
)

// methodType is one exported method usable as an RPC handler:
//
//	func (r *T) M(args *A, reply *R) error
//	func (r *T) M(ctx context.Context, args *A, reply *R) error
type methodType struct {
	method    reflect.Method
	withCtx   bool
	ArgType   reflect.Type
	ReplyType reflect.Type
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

var (
	errorType   = reflect.TypeFor[error]()
	contextType = reflect.TypeFor[context.Context]()
)

// newService scans rcvr (a pointer to a struct) for RPC methods.
func newService(rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Pointer {
		return nil, errs.InvalidParam("service receiver must be a pointer, got %T", rcvr)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, errs.InvalidParam("service receiver must point to a struct, got %s", typ.Elem().Kind())
	}
	svc := &service{
		name:   typ.Elem().Name(),
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	svc.registerMethods()
	if len(svc.method) == 0 {
		return nil, errs.InvalidParam("type %s has no rpc methods", svc.name)
	}
	return svc, nil
}

func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type
		if mt.NumOut() != 1 || mt.Out(0) != errorType {
			continue
		}

		first := 1
		withCtx := false
		switch mt.NumIn() {
		case 3:
		case 4:
			if mt.In(1) != contextType {
				continue
			}
			first, withCtx = 2, true
		default:
			continue
		}
		if mt.In(first).Kind() != reflect.Pointer || mt.In(first+1).Kind() != reflect.Pointer {
			continue
		}

		s.method[method.Name] = &methodType{
			method:    method,
			withCtx:   withCtx,
			ArgType:   mt.In(first).Elem(),
			ReplyType: mt.In(first + 1).Elem(),
		}
	}
}

func (s *service) call(ctx context.Context, mType *methodType, argv, replyv reflect.Value) error {
	args := []reflect.Value{s.rcvr, argv, replyv}
	if mType.withCtx {
		args = []reflect.Value{s.rcvr, reflect.ValueOf(ctx), argv, replyv}
	}
	results := mType.method.Func.Call(args)
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}

// handlers exposes each method as an RPC handler named "Service.Method".
func (s *service) handlers() []core.RPCHandler {
	out := make([]core.RPCHandler, 0, len(s.method))
	for name, m := range s.method {
		out = append(out, &methodHandler{svc: s, mtype: m, name: s.name + "." + name})
	}
	return out
}

// methodHandler decodes the JSON request into a fresh args value, calls the method and
// JSON-encodes the reply.
type methodHandler struct {
	svc   *service
	mtype *methodType
	name  string
}

func (h *methodHandler) Name() string { return h.name }

func (h *methodHandler) HandleRequest(ctx context.Context, _ *core.Session, req *message.RequestMsg) (*message.ResponseMsg, error) {
	argv := reflect.New(h.mtype.ArgType)
	replyv := reflect.New(h.mtype.ReplyType)

	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, argv.Interface()); err != nil {
			return nil, errs.InvalidParam("decode %s args: %v", h.name, err)
		}
	}

	if err := h.svc.call(ctx, h.mtype, argv, replyv); err != nil {
		return nil, err
	}

	reply, err := json.Marshal(replyv.Interface())
	if err != nil {
		return nil, fmt.Errorf("encode %s reply: %w", h.name, err)
	}
	return message.NewResponse(req.ID, message.StatusSuccess, reply), nil
}
