package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/regctl/internal/config"
	"github.com/danmuck/regctl/internal/observability"
	"github.com/danmuck/regctl/internal/protocol/session"
	"github.com/danmuck/regctl/internal/register"
)

var errNoProvider = errors.New("no server domain given and no registration_domain configured")

// flow drives one registration attempt against a live server.
type flow struct {
	cfg         config.Config
	out         io.Writer
	prompt      *prompter
	interactive bool
	log         zerolog.Logger
	tracer      trace.Tracer
}

// run requests the field set for target and, when submit is set, fills it
// from values and the prompt and submits it. A failed attempt returns the
// event together with its *register.Failure.
func (f *flow) run(ctx context.Context, target string, values map[string]string, submit bool) (register.Event, error) {
	if !f.cfg.AllowRegistration {
		return register.Event{}, errRegistrationDisabled
	}
	sess := register.NewSession(
		register.WithRegistrationDomain(f.cfg.RegistrationDomain),
		register.WithLogger(f.log),
	)
	defer sess.Cancel()

	if strings.TrimSpace(target) == "" && f.cfg.RegistrationDomain == "" {
		chosen, err := f.chooseProvider(sess)
		if err != nil {
			return register.Event{}, err
		}
		target = chosen
	}
	if err := sess.Start(target); err != nil {
		return register.Event{}, err
	}

	client, err := session.NewClient(f.cfg.Transport, session.WithTracer(f.tracer), session.WithLogger(f.log))
	if err != nil {
		return register.Event{}, err
	}
	conn, err := client.Connect(ctx, sess.Domain())
	if err != nil {
		ev, _ := sess.ConnectionLost(err)
		return f.finish(ev, nil)
	}
	defer conn.Close()

	done, err := sess.RequestFields(ctx, conn)
	if err != nil {
		return register.Event{}, err
	}
	ev, err := await(ctx, sess, conn, done)
	if err != nil {
		return register.Event{}, err
	}
	if ev.Kind != register.EventFieldsAvailable {
		return f.finish(ev, nil)
	}
	f.render(ev)
	if !submit {
		return ev, nil
	}

	filled, err := f.collect(ev.Fields, values)
	if err != nil {
		return register.Event{}, err
	}
	done, err = sess.Submit(ctx, filled)
	if err != nil {
		return register.Event{}, err
	}
	result, err := await(ctx, sess, conn, done)
	if err != nil {
		return register.Event{}, err
	}
	kind := ev.Fields.Kind
	return f.finish(result, &kind)
}

func (f *flow) chooseProvider(sess *register.Session) (string, error) {
	if err := sess.ChooseProvider(); err != nil {
		return "", err
	}
	if !f.interactive {
		return "", errNoProvider
	}
	_, _ = fmt.Fprintf(f.out, "Choose a server that allows registration, see %s\n", f.cfg.ProvidersLink)
	domain, err := f.prompt.ask("Server", "")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(domain) == "" {
		return "", errNoProvider
	}
	return domain, nil
}

// await waits for the request's event, failing the session if the stream
// ends first.
func await(ctx context.Context, sess *register.Session, conn *session.Conn, done <-chan register.Event) (register.Event, error) {
	select {
	case ev, ok := <-done:
		if !ok {
			return register.Event{}, context.Canceled
		}
		return ev, nil
	case <-conn.Done():
		if ev, ok := sess.ConnectionLost(conn.Err()); ok {
			return ev, nil
		}
		ev, ok := <-done
		if !ok {
			return register.Event{}, context.Canceled
		}
		return ev, nil
	case <-ctx.Done():
		sess.Cancel()
		return register.Event{}, ctx.Err()
	}
}

func (f *flow) render(ev register.Event) {
	fields := ev.Fields
	_, _ = fmt.Fprintf(f.out, "Registration form for %s (%s)\n", ev.Domain, fields.Kind)
	if fields.Title != "" {
		_, _ = fmt.Fprintf(f.out, "%s\n", fields.Title)
	}
	if fields.Instructions != "" {
		_, _ = fmt.Fprintf(f.out, "%s\n", fields.Instructions)
	}
	for _, url := range fields.URLs {
		_, _ = fmt.Fprintf(f.out, "  see %s\n", url)
	}
	for _, field := range fields.Entries() {
		line := fmt.Sprintf("  %s (%s", field.Key, field.InputType())
		if field.Required {
			line += ", required"
		}
		line += ")"
		if field.Label != "" {
			line += " " + field.Label
		}
		if field.Value != "" && field.InputType() != "password" {
			line += fmt.Sprintf(" = %q", field.Value)
		}
		_, _ = fmt.Fprintln(f.out, line)
	}
	for _, diag := range ev.Diagnostics {
		f.log.Warn().Err(diag).Str("domain", ev.Domain).Msg("skipped form field")
	}
}

// collect merges preset values with prompted answers for every field the
// user is expected to fill.
func (f *flow) collect(fields register.Fields, preset map[string]string) (map[string]string, error) {
	values := make(map[string]string, len(preset))
	for k, v := range preset {
		values[strings.ToLower(strings.TrimSpace(k))] = v
	}
	if !f.interactive {
		return values, nil
	}
	for _, field := range fields.Entries() {
		if _, ok := values[field.Key]; ok {
			continue
		}
		label := field.Key
		if field.Label != "" {
			label = field.Label
		}
		switch field.InputType() {
		case "hidden", "label":
			continue
		case "checkbox":
			label += " (yes/no)"
		case "select":
			opts := make([]string, 0, len(field.Options))
			for _, o := range field.Options {
				opts = append(opts, o.Value)
			}
			label += " (" + strings.Join(opts, ", ") + ")"
		}
		answer, err := f.prompt.ask(label, field.Value)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", field.Key, err)
		}
		values[field.Key] = answer
	}
	return values, nil
}

// finish reports a terminal event. kind is the form encoding of a submitted
// attempt, nil when the attempt ended before submission.
func (f *flow) finish(ev register.Event, kind *register.FormKind) (register.Event, error) {
	form := register.FormUnknown
	if kind != nil {
		form = *kind
	}
	if status, ok := ev.Status(); ok {
		observability.RecordOutcome(status.String(), form.String())
		f.log.Info().
			Str("domain", ev.Domain).
			Str("outcome", status.String()).
			Str("form", form.String()).
			Msg("registration finished")
	}
	switch ev.Kind {
	case register.EventRegistered:
		if ev.Credentials != nil && ev.Credentials.JID != "" {
			_, _ = fmt.Fprintf(f.out, "Registered %s, log in with the password you chose\n", ev.Credentials.JID)
		} else {
			_, _ = fmt.Fprintf(f.out, "Registered on %s\n", ev.Domain)
		}
		return ev, nil
	case register.EventFailed:
		status, _ := ev.Status()
		_, _ = fmt.Fprintf(f.out, "Registration on %s failed: %s\n", ev.Domain, status)
		if ev.Failure == nil {
			return ev, register.ErrRegistrationFailed
		}
		return ev, ev.Failure
	}
	return ev, fmt.Errorf("unexpected %s event", ev.Kind)
}

// execute runs one flow, serving metrics alongside it when configured.
func (a *app) execute(ctx context.Context, target string, values map[string]string, submit bool) error {
	provider, err := observability.NewTracerProvider(a.cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			a.log.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.MetricsAddr != "" {
		ln, err := net.Listen("tcp", a.cfg.MetricsAddr)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		g.Go(func() error {
			return observability.ServeMetrics(gctx, ln, a.log)
		})
	}
	g.Go(func() error {
		defer cancel()
		fl := &flow{
			cfg:         a.cfg,
			out:         a.out,
			prompt:      a.prompt,
			interactive: !a.opts.noPrompt,
			log:         a.log,
			tracer:      provider.Tracer(),
		}
		_, err := fl.run(gctx, target, values, submit)
		return err
	})
	return g.Wait()
}
