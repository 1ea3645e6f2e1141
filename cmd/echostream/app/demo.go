package app

import (
	"context"
	"errors"

	"echostream/core"
	"echostream/message"
	"echostream/server"

	"github.com/rs/zerolog/log"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

// Arith is the demo reflection service.
type Arith struct{}

func (a *Arith) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

func (a *Arith) Multiply(args *Args, reply *Reply) error {
	reply.Result = args.A * args.B
	return nil
}

func (a *Arith) Divide(args *Args, reply *Reply) error {
	if args.B == 0 {
		return errors.New("divide by zero")
	}
	reply.Result = args.A / args.B
	return nil
}

// RegisterDemo installs the handlers served by `echostream serve`:
//   - echo:      rpc, replies with the request data
//   - ping:      rpc, replies "pong"
//   - broadcast: event, forwarded to every other connected session
//   - echo:      stream, every frame is sent back on the same stream
//   - Arith.*:   reflection service with JSON payloads
func RegisterDemo(svr *server.Server) error {
	handlers := []core.Handler{
		core.RPCFunc("echo", func(_ context.Context, _ *core.Session, req *message.RequestMsg) (*message.ResponseMsg, error) {
			return message.NewResponse(req.ID, message.StatusSuccess, req.Data), nil
		}),
		core.RPCFunc("ping", func(_ context.Context, _ *core.Session, req *message.RequestMsg) (*message.ResponseMsg, error) {
			return message.NewResponse(req.ID, message.StatusSuccess, []byte("pong")), nil
		}),
		core.EventFunc("broadcast", broadcast),
		core.StreamFunc("echo", func(_ context.Context, s *core.Session, frame *message.StreamMsg) error {
			return s.SendStream(frame.ID, frame.Name, frame.Seq, frame.SenderTS, frame.Data, frame.Metadata, frame.Fin)
		}),
	}
	for _, h := range handlers {
		if err := svr.Handle(h); err != nil {
			return err
		}
	}
	return svr.Register(&Arith{})
}

func broadcast(_ context.Context, from *core.Session, evt *message.EventMsg) error {
	var errList []error
	for _, s := range from.Context().Sessions() {
		if s.ID() == from.ID() {
			continue
		}
		if err := s.SendEvent(evt.Name, evt.Data); err != nil {
			errList = append(errList, err)
		}
	}
	if len(errList) > 0 {
		log.Debug().Int("failed", len(errList)).Msg("broadcast partially delivered")
	}
	return errors.Join(errList...)
}
