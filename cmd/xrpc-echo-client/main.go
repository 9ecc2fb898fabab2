// Command xrpc-echo-client dials xrpc-echo-server and exercises Call,
// CallEvent and CallStream against it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/op/go-logging"
	"github.com/urfave/cli/v2"

	"github.com/fabregas/xrpc"
	"github.com/fabregas/xrpc/transport/ws"
	"github.com/fabregas/xrpc/xrpclog"
)

func main() {
	app := &cli.App{
		Name:  "xrpc-echo-client",
		Usage: "call echo/math.sum/countdown on xrpc-echo-server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "ws://127.0.0.1:8080/xrpc", Usage: "server websocket url"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second, Usage: "call response timeout"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log := xrpclog.New("xrpc-echo-client", logging.INFO)

	conn, err := ws.Dial(c.String("url"))
	if err != nil {
		return err
	}

	funcs := xrpc.NewFuncTree()
	funcs.Set("greeting", func(_ context.Context, args []json.RawMessage) (interface{}, error) {
		if len(args) > 0 {
			fmt.Println("server says:", string(args[0]))
		}
		return nil, nil
	})

	ep, err := xrpc.New(conn.Post, conn.Register,
		xrpc.WithFunctions(funcs),
		xrpc.WithEvents("greeting"),
		xrpc.WithLogger(log),
	)
	if err != nil {
		return err
	}
	defer ep.Close(nil)

	ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
	defer cancel()

	sum, err := ep.Call(ctx, "math.sum", map[string]int{"a": 12, "b": 44})
	if err != nil {
		return fmt.Errorf("math.sum: %w", err)
	}
	fmt.Println("math.sum(12, 44) =", string(sum))

	echoed, err := ep.Call(ctx, "echo", "round trip")
	if err != nil {
		return fmt.Errorf("echo: %w", err)
	}
	fmt.Println("echo =", string(echoed))

	iter := ep.CallStream(ctx, "countdown", 3)
	for {
		v, err, ok := iter.Next()
		if err != nil {
			return fmt.Errorf("countdown: %w", err)
		}
		if !ok {
			break
		}
		fmt.Println("countdown:", string(v))
	}
	iter.Close()

	return nil
}
