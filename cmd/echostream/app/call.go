package app

import (
	"fmt"
	"strings"
	"time"

	"echostream/client"
	"echostream/codec"

	"github.com/urfave/cli/v2"
)

func callCmd() *cli.Command {
	var (
		addr      = "127.0.0.1:9000"
		name      string
		data      string
		codecName = "binary"
		timeout   = 5 * time.Second
	)
	return &cli.Command{
		Name:  "call",
		Usage: "Sends one request and prints the response data",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Aliases: []string{"a"}, Usage: "Server host:port, or a ws:// url", Destination: &addr, Value: addr},
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Handler name, e.g. echo or Arith.Add", Destination: &name, Required: true},
			&cli.StringFlag{Name: "data", Aliases: []string{"d"}, Usage: "Request payload", Destination: &data},
			&cli.StringFlag{Name: "codec", Usage: "Wire codec: json, binary or msgpack", Destination: &codecName, Value: codecName},
			&cli.DurationFlag{Name: "timeout", Aliases: []string{"t"}, Usage: "Request timeout", Destination: &timeout, Value: timeout},
		},
		Action: func(ctx *cli.Context) error {
			ct, err := codec.ParseCodecType(codecName)
			if err != nil {
				return err
			}
			opts := []client.Option{client.WithCodec(ct), client.WithTimeout(timeout)}

			var cl *client.Client
			if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
				cl, err = client.DialWebSocket(ctx.Context, addr, opts...)
			} else {
				cl, err = client.Dial(ctx.Context, addr, opts...)
			}
			if err != nil {
				return err
			}
			defer cl.Close()

			var payload []byte
			if data != "" {
				payload = []byte(data)
			}
			out, err := cl.CallRaw(ctx.Context, name, payload)
			if err != nil {
				return err
			}
			fmt.Fprintln(ctx.App.Writer, string(out))
			return nil
		},
	}
}
