package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"urclec/client"
	"urclec/internal/movement"
	"urclec/internal/platform/envconf"
	"urclec/internal/workflow"
)

type connFlags struct {
	url     *string
	token   *string
	timeout *time.Duration
}

func addConnFlags(fs *flag.FlagSet) connFlags {
	return connFlags{
		url:     fs.String("url", envconf.String("URCLEC_URL", "http://localhost:8080"), "Gateway base URL"),
		token:   fs.String("token", envconf.String("URCLEC_TOKEN", ""), "Bearer access token"),
		timeout: fs.Duration("timeout", envconf.Duration("URCLEC_TIMEOUT", 15*time.Second), "Per-call timeout"),
	}
}

func (f connFlags) client() (*client.Client, error) {
	return client.New(client.Config{BaseURL: *f.url, Token: *f.token, Timeout: *f.timeout})
}

func runLogin(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	conn := addConnFlags(fs)
	email := fs.String("email", "", "Account email")
	password := fs.String("password", envconf.String("URCLEC_PASSWORD", ""), "Account password (defaults to URCLEC_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := conn.client()
	if err != nil {
		return err
	}
	session, err := c.Login(ctx, *email, *password)
	if err != nil {
		return describe(err)
	}
	fmt.Fprintln(out, session.AccessToken)
	return nil
}

func runMe(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("me", flag.ContinueOnError)
	conn := addConnFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := conn.client()
	if err != nil {
		return err
	}
	user, err := c.Me(ctx)
	if err != nil {
		return describe(err)
	}
	return printJSON(out, user)
}

func runRequests(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("requests", flag.ContinueOnError)
	conn := addConnFlags(fs)
	scope := fs.String("scope", "mine", "mine, team or all")
	status := fs.String("status", "", "pending, approved or rejected")
	kind := fs.String("type", "", "leave, permission or absence")
	archived := fs.Bool("archived", false, "Include archived requests")
	page := fs.Int("page", 1, "Page number")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := conn.client()
	if err != nil {
		return err
	}
	result, err := c.ListRequests(ctx, client.RequestFilter{
		Type:            client.RequestType(*kind),
		Status:          workflow.Outcome(*status),
		Scope:           *scope,
		IncludeArchived: *archived,
		Page:            *page,
	})
	if err != nil {
		return describe(err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tREQUESTER\tFROM\tTO\tSTATUS\tOPEN LEVEL\tYOU")
	for _, r := range result.Items {
		you := ""
		if r.CanDecide {
			you = "decide@" + string(r.DecidableLevel)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Type, r.Requester.FullName, r.StartDate, r.EndDate, r.Status, r.OpenLevel, you)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d of %d (page %d)\n", len(result.Items), result.Total, result.Page)
	return nil
}

func runDecide(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("decide", flag.ContinueOnError)
	conn := addConnFlags(fs)
	id := fs.String("id", "", "Request id")
	outcome := fs.String("outcome", "", "approved or rejected")
	comment := fs.String("comment", "", "Comment stored with the decision")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := conn.client()
	if err != nil {
		return err
	}
	request, err := c.SubmitDecision(ctx, *id, workflow.Outcome(strings.ToLower(*outcome)), *comment)
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(out, "request %s is %s", request.ID, request.Status)
	if request.OpenLevel != "" {
		fmt.Fprintf(out, ", awaiting %s", request.OpenLevel)
	}
	fmt.Fprintln(out)
	for _, step := range request.Workflow {
		fmt.Fprintf(out, "  %-12s %s\n", step.Level, step.Status)
	}
	return nil
}

func runMovements(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("movements", flag.ContinueOnError)
	conn := addConnFlags(fs)
	equipment := fs.String("equipment", "", "Equipment id")
	pending := fs.Bool("pending", false, "Only unconfirmed movements")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := conn.client()
	if err != nil {
		return err
	}
	result, err := c.ListMovements(ctx, client.MovementFilter{EquipmentID: *equipment, PendingOnly: *pending})
	if err != nil {
		return describe(err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEQUIPMENT\tTYPE\tCONFIRMED\tACTIONS")
	for _, m := range result.Items {
		actions := make([]string, 0, len(m.Actions))
		for _, a := range m.Actions {
			actions = append(actions, string(a))
		}
		name := m.EquipmentName
		if name == "" {
			name = m.EquipmentID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", m.ID, name, m.Type, m.Confirmed, strings.Join(actions, ","))
	}
	return tw.Flush()
}

func runConfirm(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("confirm", flag.ContinueOnError)
	conn := addConnFlags(fs)
	id := fs.String("id", "", "Movement id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := conn.client()
	if err != nil {
		return err
	}
	m, err := c.ConfirmReceipt(ctx, *id)
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(out, "movement %s confirmed\n", m.ID)
	return nil
}

func runReturn(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("return", flag.ContinueOnError)
	conn := addConnFlags(fs)
	id := fs.String("id", "", "Repair movement id")
	final := fs.String("final", string(movement.ConditionFunctional), "functional or broken")
	comment := fs.String("comment", "", "Comment for the initiator")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := conn.client()
	if err != nil {
		return err
	}
	m, err := c.InitiateReturn(ctx, *id, movement.Condition(*final), *comment)
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(out, "return %s created, awaiting confirmation by %s\n", m.ID, m.DestinationResponsibleID)
	return nil
}

// describe adds a hint for the errors an operator can act on.
func describe(err error) error {
	var (
		conflict *client.ConflictError
		authz    *client.AuthorizationError
		network  *client.NetworkError
	)
	switch {
	case errors.As(err, &conflict):
		return fmt.Errorf("%w (refresh and check the current state)", err)
	case errors.As(err, &authz) && authz.Unauthenticated():
		return fmt.Errorf("%w (log in again)", err)
	case errors.As(err, &network):
		return fmt.Errorf("%w (safe to retry)", err)
	default:
		return err
	}
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
