package main

import (
	"context"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/schollz/progressbar/v3"

	appevents "github.com/rescp17/peerSplice/internal/app_events"
	receiverEvent "github.com/rescp17/peerSplice/internal/app_events/receiver"
	senderEvent "github.com/rescp17/peerSplice/internal/app_events/sender"
	"github.com/rescp17/peerSplice/internal/util"
	"github.com/rescp17/peerSplice/pkg/sender"
	"github.com/rescp17/peerSplice/pkg/transfer"
)

// plainSend sends path and prints progress without taking over the terminal.
func plainSend(ctx context.Context, app *sender.App, path string, w io.Writer) error {
	renderCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		renderPlain(renderCtx, app.UIMessages(), w)
	}()

	err := app.SendFile(ctx, path)
	stop()
	<-done
	return err
}

// renderPlain prints app messages as log lines and a byte progress bar
// until ctx is done.
func renderPlain(ctx context.Context, msgs <-chan tea.Msg, w io.Writer) {
	var bar *progressbar.ProgressBar
	start := func(meta transfer.FileMetaInfo, verb string) {
		bar = progressbar.NewOptions64(meta.Size,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(verb+" "+meta.Name),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
		)
	}
	finish := func() {
		if bar != nil {
			_ = bar.Finish()
			bar = nil
		}
	}

	handle := func(msg tea.Msg) {
		switch m := msg.(type) {
		case appevents.ConnectionStateMsg:
			if m.Err != nil {
				fmt.Fprintf(w, "connection: %s -> %s (%v)\n", m.From, m.To, m.Err)
			} else {
				fmt.Fprintf(w, "connection: %s -> %s\n", m.From, m.To)
			}
		case appevents.ProgressMsg:
			if bar != nil {
				_ = bar.Set64(m.Status.Bytes)
			}
		case appevents.StatusMsg:
			fmt.Fprintln(w, m.Message)
		case appevents.ErrorMsg:
			finish()
			fmt.Fprintf(w, "error: %v\n", m.Err)
		case senderEvent.TransferStartedMsg:
			start(m.Meta, "sending")
		case senderEvent.TransferCompleteMsg:
			finish()
			fmt.Fprintf(w, "sent %s (%s)\n", m.Meta.Name, util.FormatSize(m.Meta.Size))
		case senderEvent.TransferCancelledMsg:
			finish()
			fmt.Fprintf(w, "cancelled %s\n", m.Meta.Name)
		case receiverEvent.FileAnnouncedMsg:
			start(m.Meta, "receiving")
		case receiverEvent.FileReceivedMsg:
			finish()
			fmt.Fprintf(w, "received %s (%s) -> %s\n", m.Meta.Name, util.FormatSize(m.Meta.Size), m.Path)
		case receiverEvent.FileFailedMsg:
			finish()
			fmt.Fprintf(w, "failed %s: %v\n", m.Meta.Name, m.Err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			// print what was queued before the app stopped
			for {
				select {
				case msg, ok := <-msgs:
					if !ok {
						finish()
						return
					}
					handle(msg)
				default:
					finish()
					return
				}
			}
		case msg, ok := <-msgs:
			if !ok {
				finish()
				return
			}
			handle(msg)
		}
	}
}
