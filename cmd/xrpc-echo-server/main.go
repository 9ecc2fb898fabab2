// Command xrpc-echo-server hosts a small function namespace over
// websocket: echo, math.sum, and a countdown stream, plus a greeting
// event fired to every client on connect.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/op/go-logging"
	"github.com/urfave/cli/v2"

	"github.com/fabregas/xrpc"
	"github.com/fabregas/xrpc/transport/ws"
	"github.com/fabregas/xrpc/xrpclog"
)

type sumArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

func main() {
	app := &cli.App{
		Name:  "xrpc-echo-server",
		Usage: "serve an echo/sum namespace over websocket",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "listen address"},
			&cli.StringFlag{Name: "path", Value: "/xrpc", Usage: "websocket path"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warning, error, critical"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	level, err := logging.LogLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	log := xrpclog.New("xrpc-echo-server", level)

	funcs := xrpc.NewFuncTree()
	funcs.Set("echo", func(_ context.Context, args []json.RawMessage) (interface{}, error) {
		if len(args) == 0 {
			return nil, nil
		}
		var v interface{}
		_ = json.Unmarshal(args[0], &v)
		return v, nil
	})
	funcs.Set("math.sum", func(_ context.Context, args []json.RawMessage) (interface{}, error) {
		var req sumArgs
		if len(args) > 0 {
			if err := json.Unmarshal(args[0], &req); err != nil {
				return nil, err
			}
		}
		return req.A + req.B, nil
	})
	funcs.Set("countdown", func(_ context.Context, args []json.RawMessage) (interface{}, error) {
		n := 5
		if len(args) > 0 {
			_ = json.Unmarshal(args[0], &n)
		}
		ch := make(chan xrpc.StreamItem)
		go func() {
			defer close(ch)
			for i := n; i >= 0; i-- {
				ch <- xrpc.StreamItem{Value: i}
			}
		}()
		return (<-chan xrpc.StreamItem)(ch), nil
	})

	upgrader := ws.NewUpgrader(func(conn *ws.Conn) {
		ep, err := xrpc.New(conn.Post, conn.Register,
			xrpc.WithFunctions(funcs),
			xrpc.WithLogger(log),
		)
		if err != nil {
			log.Errorf("new endpoint: %s", err)
			conn.Close()
			return
		}
		log.Infof("client connected")
		go func() {
			ep.CallEvent(context.Background(), "greeting", "hello, dude! try echo, math.sum, or countdown")
		}()
	})

	mux := http.NewServeMux()
	mux.Handle(c.String("path"), upgrader)
	log.Infof("listening on %s%s", c.String("addr"), c.String("path"))
	return http.ListenAndServe(c.String("addr"), mux)
}
