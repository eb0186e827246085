package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"cdpdriver/internal/config"
	"cdpdriver/internal/dom"
	"cdpdriver/internal/logger"
	"cdpdriver/internal/rules"
	"cdpdriver/internal/storage"
	"cdpdriver/pkg/api"
	"cdpdriver/pkg/domain"
)

func newRunCmd() *cobra.Command {
	var (
		rulesPath string
		gotoURL   string
		waitSel   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "连接页面并开始拦截",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			l := logger.New(logger.Options{
				Level:    cfg.Log.Level,
				Writers:  cfg.Log.Writer,
				FilePath: cfg.Log.File,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			archive, err := storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, l)
			if err != nil {
				return err
			}
			defer archive.Close()

			svc := api.NewService(l)
			id, err := svc.StartSession(ctx, domain.SessionConfig{
				DevToolsURL:      cfg.DevTools.URL,
				ProcessTimeoutMS: cfg.Timeouts.ProcessMS,
				NavTimeoutMS:     cfg.Timeouts.NavigationMS,
				WaitTimeoutMS:    cfg.Timeouts.WaitMS,
			})
			if err != nil {
				return err
			}
			defer svc.StopSession(id)

			if rulesPath != "" {
				rs, err := loadRuleSet(rulesPath)
				if err != nil {
					return err
				}
				if err := svc.LoadRules(id, rs); err != nil {
					return err
				}
				l.Info("规则集已加载", "path", rulesPath, "count", len(rs.Rules))
			}
			if err := svc.EnableInterception(ctx, id); err != nil {
				return err
			}

			events, cancel, err := svc.SubscribeEvents(id)
			if err != nil {
				return err
			}
			defer cancel()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				archive.Consume(gctx, events)
				return nil
			})
			g.Go(func() error {
				if gotoURL == "" {
					return nil
				}
				resp, err := svc.Goto(gctx, id, gotoURL, time.Duration(cfg.Timeouts.NavigationMS)*time.Millisecond)
				if err != nil {
					return fmt.Errorf("goto %s: %w", gotoURL, err)
				}
				l.Info("导航完成", "url", gotoURL, "status", resp.StatusCode)
				if waitSel == "" {
					return nil
				}
				h, err := svc.WaitForSelector(gctx, id, waitSel, dom.WaitOptions{Visible: true})
				if err != nil {
					return fmt.Errorf("wait %q: %w", waitSel, err)
				}
				l.Info("选择器已就绪", "selector", waitSel, "object", h.ObjectID)
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				return nil
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVarP(&rulesPath, "rules", "r", "", "规则集文件路径（yaml）")
	cmd.Flags().StringVar(&gotoURL, "goto", "", "启动后导航到该地址")
	cmd.Flags().StringVar(&waitSel, "wait", "", "导航后等待该选择器可见")
	return cmd
}

func loadRuleSet(path string) (rules.RuleSet, error) {
	var rs rules.RuleSet
	data, err := os.ReadFile(path)
	if err != nil {
		return rs, fmt.Errorf("read rules: %w", err)
	}
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return rs, fmt.Errorf("parse rules: %w", err)
	}
	return rs, nil
}
