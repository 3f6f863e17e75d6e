package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/and161185/todo-keeper/internal/model"
	"github.com/and161185/todo-keeper/internal/ordering"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// render writes v as json or yaml.
func render(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		return printJSON(w, v)
	case formatYAML:
		return printYAML(w, v)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func renderView(w io.Writer, format string, v ordering.View) error {
	if format == formatText {
		return printView(w, v)
	}
	return render(w, format, v)
}

// printView writes incomplete tasks, then completed ones.
func printView(w io.Writer, v ordering.View) error {
	var b strings.Builder
	if v.Len() == 0 {
		b.WriteString("no tasks\n")
	}
	section := func(name string, ts []model.Task) {
		if len(ts) == 0 {
			return
		}
		fmt.Fprintf(&b, "%s (%d)\n", name, len(ts))
		for _, t := range ts {
			fmt.Fprintf(&b, "  %s %s  %s  due %s  p%d\n", checkbox(t.Completed), t.ID, t.Title, t.Deadline, t.Priority)
			if d := strings.TrimSpace(t.Description); d != "" {
				fmt.Fprintf(&b, "      %s\n", d)
			}
		}
	}
	section("To do", v.Incomplete)
	section("Done", v.Completed)
	_, err := io.WriteString(w, b.String())
	return err
}

func checkbox(done bool) string {
	if done {
		return "[x]"
	}
	return "[ ]"
}
