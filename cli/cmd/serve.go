package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/BDNK1/procflow/runtime"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve [dir]",
		Short: "Serve the procedures of a directory over HTTP",
		Long: `Serve loads every procedure in dir (the project's procedures directory
by default) and exposes them:

  GET  /procedures        lists procedure names
  POST /procedures/:name  runs a procedure with the JSON body as input
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var dir string
			if len(args) == 1 {
				dir = args[0]
			}
			env, err := newEnvironment(ctx, opts, cmd.ErrOrStderr(), dir)
			if err != nil {
				return err
			}
			defer env.close(context.WithoutCancel(ctx))

			if port == "" {
				port = env.project.Server.Port
			}

			gin.SetMode(gin.ReleaseMode)
			g := gin.New()
			g.Use(gin.Recovery())
			runtime.NewHttpHandler(env.app, g, env.project.Server.Headers...)

			srv := &http.Server{Addr: ":" + port, Handler: g}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			logger := env.project.Runtime.Logger(cmd.ErrOrStderr())
			logger.Info("Serving procedures", "port", port, "procedures", env.app.Registry.ProcedureNames())
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "HTTP port (default from procflow.yaml, 8080)")
	return cmd
}
