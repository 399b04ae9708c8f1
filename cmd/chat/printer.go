package main

import (
	"fmt"
	"io"

	"github.com/MegaGrindStone/emofelix-web/internal/models"
	"github.com/MegaGrindStone/emofelix-web/internal/transcript"
)

// printer writes transcript updates to a terminal. Streamed text is printed as it grows, so
// only the part not yet on screen is written for each update.
type printer struct {
	w       io.Writer
	name    string
	current string
	printed int
}

func newPrinter(w io.Writer, name string) *printer {
	if name == "" {
		name = "AI"
	}
	return &printer{w: w, name: name}
}

func (p *printer) print(u transcript.Update) {
	msg := u.Message
	if msg.Sender != models.SenderAssistant || msg.IsTyping {
		return
	}

	switch u.Kind {
	case transcript.UpdateRemoved:
		return
	case transcript.UpdateAdded:
		p.current = msg.ID
		p.printed = 0
		fmt.Fprintf(p.w, "%s: ", p.name)
	}
	if msg.ID != p.current {
		return
	}

	// Accumulated text only grows while streaming.
	if len(msg.Content) > p.printed {
		fmt.Fprint(p.w, msg.Content[p.printed:])
		p.printed = len(msg.Content)
	}
	if u.Final {
		fmt.Fprintln(p.w)
		p.current = ""
	}
}
