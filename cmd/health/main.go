// Command health is a sidecar readiness prober: it forwards the daemon's
// /healthz verdict so orchestrators can probe a fixed port even when the
// API surface is firewalled off.
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

func main() {
	addr := flag.String("addr", ":8083", "listen address for the probe")
	target := flag.String("target", "http://127.0.0.1:8082/healthz", "daemon healthz URL to forward")
	timeout := flag.Duration("timeout", 3*time.Second, "upstream probe timeout")
	flag.Parse()

	client := &fasthttp.Client{
		ReadTimeout:  *timeout,
		WriteTimeout: *timeout,
	}

	h := func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/health", "/healthz":
			code, body, err := client.GetTimeout(nil, *target, *timeout)
			if err != nil {
				ctx.Response.Header.Set("Content-Type", "application/json")
				ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
				_, _ = ctx.WriteString(fmt.Sprintf("{\"status\":\"unreachable\",\"error\":%q}", err.Error()))
				return
			}
			ctx.Response.Header.Set("Content-Type", "application/json")
			ctx.SetStatusCode(code)
			_, _ = ctx.Write(body)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}

	fmt.Printf("health probe on %s forwarding %s\n", *addr, *target)
	srv := &fasthttp.Server{
		Handler:            h,
		Name:               "chatsync-health",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		MaxRequestBodySize: 1 << 20,
	}
	if err := srv.ListenAndServe(*addr); err != nil {
		fmt.Printf("health server exit: %v\n", err)
	}
}
