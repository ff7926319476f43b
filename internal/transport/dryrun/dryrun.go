// Package dryrun provides a transport that logs instead of sending.
// It is used to rehearse a campaign (recipient list, pacing, ledger) without
// touching a real messaging account.
package dryrun

import (
	"context"
	"strings"

	"campaignbot/internal/transport"
	logx "campaignbot/pkg/logx"
)

type Transport struct {
	log logx.Logger
}

func New(log logx.Logger) *Transport {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Transport{log: log}
}

func (t *Transport) AwaitPairing(ctx context.Context) error { return ctx.Err() }
func (t *Transport) AwaitReady(ctx context.Context) error   { return ctx.Err() }
func (t *Transport) Close(context.Context) error            { return nil }

func (t *Transport) Resolve(ctx context.Context, id transport.RecipientID) (transport.ResolvedID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(string(id)) == "" {
		return "", transport.ErrRecipientUnknown
	}
	return transport.ResolvedID(id), nil
}

func (t *Transport) Send(ctx context.Context, to transport.ResolvedID, p transport.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.log.Info("dry-run send",
		logx.String("to", string(to)),
		logx.Int("text_len", len(p.Text)),
		logx.String("media", p.MediaPath),
	)
	return nil
}
