package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agdt/internal/app"
	"agdt/internal/server"
)

func (c *cli) serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Serves state, tasks, workflows, prompts and events over HTTP.
Tasks run in an in-process worker pool. Bearer auth uses AGDT_JWT_SECRET and X-Api-Key
auth uses keys made with agdt serve key create; with neither the server only listens on
a loopback address.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{JWTSecret: a.Secrets.JWTSecret}
				if a.Ledger != nil {
					if n, err := a.Ledger.Repo.CountAPIKeys(ctx); err == nil && n > 0 {
						authCfg.APIKeys = a.Ledger.Repo
					}
				}
				if !authCfg.Enabled() && !loopback(addr) {
					return fmt.Errorf("AGDT_JWT_SECRET or an API key is required to listen on %s", addr)
				}

				reg := prometheus.NewRegistry()
				reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
				metrics := server.NewMetrics(reg)

				pool := a.Pool(metrics)
				pool.Start(ctx)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
					defer cancel()
					if err := pool.Shutdown(shutdownCtx); err != nil {
						a.Log.Warn("worker pool shutdown", zap.Error(err))
					}
				}()

				if a.Ledger != nil && len(a.Config.Webhooks) > 0 {
					d := server.NewWebhookDispatcher(a.Ledger.Repo, a.Config.Webhooks, a.Log, metrics)
					go d.Run(ctx)
				}

				handler, err := server.New(server.Config{
					App:      a,
					Queue:    pool,
					BasePath: basePath,
					Auth:     authCfg,
					Gatherer: reg,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				a.Log.Info("serving agdt API",
					zap.String("addr", addr),
					zap.String("base_path", basePath),
					zap.Bool("auth", authCfg.Enabled()))
				c.printf("Serving agdt API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	cmd.AddCommand(c.serveTokenCmd())
	cmd.AddCommand(c.serveKeyCmd())
	return cmd
}

func (c *cli) serveTokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with AGDT_JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := strings.TrimSpace(c.getenv("AGDT_JWT_SECRET"))
			now := time.Now()
			claims := jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(now)}
			if ttl > 0 {
				claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
			}
			token, err := server.IssueToken(secret, subject, claims)
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return c.printJSON(map[string]string{"token": token, "subject": subject})
			}
			c.printf("%s\n", token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for none)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

// loopback reports whether addr only binds a loopback interface.
func loopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
