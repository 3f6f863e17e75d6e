package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/and161185/todo-keeper/internal/model"
	"github.com/and161185/todo-keeper/internal/ordering"
	"github.com/and161185/todo-keeper/internal/session"
	"github.com/and161185/todo-keeper/internal/tasks"
)

func newRegisterCmd(open opener) *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			p, err := e.app.Session.SignUp(cmd.Context(), name, email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(e.out, "signed up as %s\n", describe(p))
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "display name")
	cmd.Flags().StringVarP(&email, "email", "e", "", "email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (at least 6 characters)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLoginCmd(open opener) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			p, err := e.app.Session.SignIn(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(e.out, "signed in as %s\n", describe(p))
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			if e.app.Session.State().Principal == nil {
				fmt.Fprintln(e.out, "not signed in")
				return nil
			}
			if err := e.app.Session.SignOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(e.out, "signed out")
			return nil
		},
	}
}

func newWhoamiCmd(open opener) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			p := e.app.Session.State().Principal
			if format != formatText {
				return render(e.out, format, p)
			}
			if p == nil {
				fmt.Fprintln(e.out, "not signed in")
				return nil
			}
			fmt.Fprintln(e.out, describe(*p))
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", formatText, "text, json or yaml")
	return cmd
}

func newListCmd(open opener) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print tasks, incomplete first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.waitSynced(cmd.Context()); err != nil {
				return err
			}
			return renderView(e.out, format, ordering.Display(e.app.Tasks.Tasks()))
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", formatText, "text, json or yaml")
	return cmd
}

func newWatchCmd(open opener) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the list again on every change until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			return watch(cmd.Context(), e, format)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", formatText, "text, json or yaml")
	return cmd
}

func watch(ctx context.Context, e *env, format string) error {
	changed := make(chan struct{}, 1)
	signal := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	stop := e.app.Tasks.Subscribe(func([]model.Task) { signal() })
	defer stop()

	ended := make(chan struct{})
	unsub := e.app.Session.Subscribe(func(st session.State) {
		if st.Phase == session.Unauthenticated {
			select {
			case <-ended:
			default:
				close(ended)
			}
		}
	})
	defer unsub()

	if err := e.waitSynced(ctx); err != nil {
		return err
	}
	signal()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ended:
			return fmt.Errorf("session ended; run td login")
		case <-changed:
			if err := renderView(e.out, format, ordering.Display(e.app.Tasks.Tasks())); err != nil {
				return err
			}
		}
	}
}

func newAddCmd(open opener) *cobra.Command {
	var title, description, deadline string
	var priority int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := tasks.NewTask(title, description, deadline, priority)
			if err != nil {
				return err
			}
			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			if _, err := e.requireUser(); err != nil {
				return err
			}
			if err := e.app.Tasks.Create(cmd.Context(), t); err != nil {
				return err
			}
			fmt.Fprintln(e.out, t.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "title (required)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "description")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline, YYYY-MM-DD (required)")
	cmd.Flags().IntVarP(&priority, "priority", "p", tasks.DefaultPriority, "priority, higher first")
	return cmd
}

func newRmCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			if _, err := e.requireUser(); err != nil {
				return err
			}
			return e.app.Tasks.Delete(cmd.Context(), strings.TrimSpace(args[0]))
		},
	}
}

func newToggleCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Flip a task between done and not done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.waitSynced(cmd.Context()); err != nil {
				return err
			}
			id := strings.TrimSpace(args[0])
			t, ok := find(e.app.Tasks.Tasks(), id)
			if !ok {
				return fmt.Errorf("no task %s", id)
			}
			if err := e.app.Tasks.Toggle(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(e.out, "%s %s\n", checkbox(!t.Completed), t.Title)
			return nil
		},
	}
}

func find(ts []model.Task, id string) (model.Task, bool) {
	for _, t := range ts {
		if t.ID == id {
			return t, true
		}
	}
	return model.Task{}, false
}

func describe(p model.Principal) string {
	if p.DisplayName != "" {
		return fmt.Sprintf("%s <%s>", p.DisplayName, p.Email)
	}
	return p.Email
}
