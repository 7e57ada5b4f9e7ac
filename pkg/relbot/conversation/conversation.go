// Package conversation implements C4: the resumable per-(chat, user) form
// a requester fills in one message at a time (environment, branch,
// services, hash, content — or, for an address-only project, environment
// then addresses) before a Workflow is created. State lives in a
// JetStream KeyValue bucket so a restart of the daemon resumes an
// in-progress conversation rather than losing it, following the same
// get/put-by-key idiom as storage/entity.go's NATS KV usage, adapted from
// entity CRUD to a short-lived per-user draft.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/relbot/pkg/chatapi"
	"github.com/c360studio/relbot/pkg/configstore"
	"github.com/c360studio/relbot/pkg/relbot/model"
)

// Bucket is the JetStream KeyValue bucket name conversations live in.
const Bucket = "relbot_conversations"

// Step is one stage of the draft form.
type Step string

const (
	StepEnvironment  Step = "environment"
	StepBranch       Step = "branch"
	StepBranchInput  Step = "branch_input"
	StepServices     Step = "services"
	StepHash         Step = "hash"
	StepContent      Step = "content"
	StepAddressInput Step = "address_input"
	StepConfirm      Step = "confirm"
)

// defaultBranch is used when a project has no configured default for the
// selected environment, matching the fallback in the original form.
const defaultBranch = "main"

// ErrNotFound is returned when no draft exists for a (chat, user) pair.
var ErrNotFound = errors.New("conversation: no draft in progress")

// Draft is the in-progress deployment request a user is composing.
type Draft struct {
	ChatID      int64    `json:"chat_id"`
	UserID      int64    `json:"user_id"`
	Username    string   `json:"username"`
	Project     string   `json:"project"`
	AddressOnly bool     `json:"address_only"`
	ApplyTime   string   `json:"apply_time"`
	Environment string   `json:"environment"`
	Branch      string   `json:"branch"`
	Services    []string `json:"services,omitempty"`
	Hash        string   `json:"hash"`
	Content     string   `json:"content"`
	Addresses   []string `json:"addresses,omitempty"`
	Step        Step     `json:"step"`
	UpdatedAt   int64    `json:"updated_at"`
}

// View is the next message the caller should post or edit: text plus any
// inline buttons (nil for a plain text-input prompt).
type View struct {
	Text    string
	Buttons []chatapi.Button
}

// Result is what a completed conversation hands the approval dispatcher.
type Result struct {
	Project        string
	TemplateType   model.TemplateType
	SubmissionData string
	OrderDetails   model.OrderDetails
}

// Engine stores and advances drafts.
type Engine struct {
	kv  jetstream.KeyValue
	cfg *configstore.Store
	now func() time.Time
}

// New wraps an existing KeyValue bucket handle (see bus.EnsureKV) and the
// project configuration the form steps read options from.
func New(kv jetstream.KeyValue, cfg *configstore.Store) *Engine {
	return &Engine{kv: kv, cfg: cfg, now: time.Now}
}

func key(chatID, userID int64) string {
	return fmt.Sprintf("%d.%d", chatID, userID)
}

// Start begins a new draft for (chatID, userID) in project, discarding any
// prior one, and returns the first screen to show (environment selection).
func (e *Engine) Start(ctx context.Context, chatID, userID int64, username, project string) (*Draft, View, error) {
	opt, ok := e.cfg.Project(project)
	if !ok {
		return nil, View{}, fmt.Errorf("conversation: unknown project %q", project)
	}
	d := &Draft{
		ChatID:      chatID,
		UserID:      userID,
		Username:    username,
		Project:     project,
		AddressOnly: opt.AddressOnly,
		ApplyTime:   e.now().Format("2006-01-02 15:04:05"),
		Step:        StepEnvironment,
	}
	if err := e.save(ctx, d); err != nil {
		return nil, View{}, err
	}
	return d, e.renderEnvironment(opt, d), nil
}

// Get returns the in-progress draft for (chatID, userID), if any.
func (e *Engine) Get(ctx context.Context, chatID, userID int64) (*Draft, error) {
	entry, err := e.kv.Get(ctx, key(chatID, userID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("conversation: get: %w", err)
	}
	var d Draft
	if err := json.Unmarshal(entry.Value(), &d); err != nil {
		return nil, fmt.Errorf("conversation: decode draft: %w", err)
	}
	return &d, nil
}

func (e *Engine) save(ctx context.Context, d *Draft) error {
	d.UpdatedAt = e.now().Unix()
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("conversation: encode draft: %w", err)
	}
	if _, err := e.kv.Put(ctx, key(d.ChatID, d.UserID), data); err != nil {
		return fmt.Errorf("conversation: put: %w", err)
	}
	return nil
}

// Cancel discards the in-progress draft for (chatID, userID).
func (e *Engine) Cancel(ctx context.Context, chatID, userID int64) error {
	if err := e.kv.Delete(ctx, key(chatID, userID)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("conversation: cancel: %w", err)
	}
	return nil
}

// Callback applies one inline-button click. data is the button payload as
// the caller received it: a "<verb>:<value>" pair scoped to the draft's
// current step, not the "<action>:<workflow_id>" form approval buttons use.
// result is non-nil only when the form has just been submitted.
func (e *Engine) Callback(ctx context.Context, chatID, userID int64, data string) (*Draft, View, *Result, error) {
	d, err := e.Get(ctx, chatID, userID)
	if err != nil {
		return nil, View{}, nil, err
	}
	opt, ok := e.cfg.Project(d.Project)
	if !ok {
		return nil, View{}, nil, fmt.Errorf("conversation: project %q no longer configured", d.Project)
	}

	verb, value, _ := strings.Cut(data, ":")

	switch d.Step {
	case StepEnvironment:
		if verb != "env" {
			return d, e.renderEnvironment(opt, d), nil, nil
		}
		return e.applyEnvironment(ctx, opt, d, value)

	case StepBranch:
		switch verb {
		case "branch":
			if value == "default" {
				d.Branch = opt.DefaultBranchFor(d.Environment)
				if d.Branch == "" {
					d.Branch = defaultBranch
				}
				d.Step = StepServices
				if err := e.save(ctx, d); err != nil {
					return nil, View{}, nil, err
				}
				return d, e.renderServices(opt, d), nil, nil
			}
			if value == "custom" {
				d.Step = StepBranchInput
				if err := e.save(ctx, d); err != nil {
					return nil, View{}, nil, err
				}
				return d, View{Text: e.summary(d) + "\n💡 Reply with the branch name."}, nil, nil
			}
		}
		return d, e.renderBranch(d), nil, nil

	case StepServices:
		if verb == "service" {
			if value == "done" {
				if len(d.Services) == 0 {
					return d, e.renderServices(opt, d).withNotice("Select at least one service first."), nil, nil
				}
				d.Step = StepHash
				if err := e.save(ctx, d); err != nil {
					return nil, View{}, nil, err
				}
				return d, View{Text: e.summary(d) + "\n💡 Reply with a single hash (no commas)."}, nil, nil
			}
			d.Services = toggle(d.Services, value)
			if err := e.save(ctx, d); err != nil {
				return nil, View{}, nil, err
			}
			return d, e.renderServices(opt, d), nil, nil
		}
		return d, e.renderServices(opt, d), nil, nil

	case StepConfirm:
		switch verb {
		case "confirm":
			if value == "submit" {
				return e.submit(ctx, d)
			}
			if value == "cancel" {
				_ = e.Cancel(ctx, chatID, userID)
				return nil, View{Text: "Cancelled."}, nil, nil
			}
		}
		return d, e.renderConfirm(d), nil, nil
	}

	return d, View{Text: e.summary(d)}, nil, nil
}

// Text applies one free-text message: the branch-custom, hash, content, or
// address step, depending on where the draft currently stands.
func (e *Engine) Text(ctx context.Context, chatID, userID int64, text string) (*Draft, View, *Result, error) {
	d, err := e.Get(ctx, chatID, userID)
	if err != nil {
		return nil, View{}, nil, err
	}
	opt, ok := e.cfg.Project(d.Project)
	if !ok {
		return nil, View{}, nil, fmt.Errorf("conversation: project %q no longer configured", d.Project)
	}
	text = strings.TrimSpace(text)

	switch d.Step {
	case StepBranchInput:
		if text == "" {
			return d, View{Text: "❌ Branch name cannot be empty, please retry."}, nil, nil
		}
		d.Branch = text
		d.Step = StepServices
		if err := e.save(ctx, d); err != nil {
			return nil, View{}, nil, err
		}
		return d, e.renderServices(opt, d), nil, nil

	case StepHash:
		if text == "" {
			return d, View{Text: "❌ Hash cannot be empty, please retry."}, nil, nil
		}
		if model.ContainsSeparator(text) {
			return d, View{Text: "❌ Enter a single hash (no commas), please retry."}, nil, nil
		}
		d.Hash = text
		d.Step = StepContent
		if err := e.save(ctx, d); err != nil {
			return nil, View{}, nil, err
		}
		return d, View{Text: e.summary(d) + "\n💡 Reply with the release content."}, nil, nil

	case StepContent:
		if text == "" {
			return d, View{Text: "❌ Content cannot be empty, please retry."}, nil, nil
		}
		d.Content = text
		d.Step = StepConfirm
		if err := e.save(ctx, d); err != nil {
			return nil, View{}, nil, err
		}
		return d, e.renderConfirm(d), nil, nil

	case StepAddressInput:
		addrs := nonEmptyLines(text)
		if len(addrs) == 0 {
			return d, View{Text: "❌ Enter at least one address (one per line), please retry."}, nil, nil
		}
		d.Addresses = addrs
		d.Step = StepConfirm
		if err := e.save(ctx, d); err != nil {
			return nil, View{}, nil, err
		}
		return d, e.renderConfirm(d), nil, nil
	}

	return d, View{Text: e.summary(d)}, nil, nil
}

func (e *Engine) applyEnvironment(ctx context.Context, opt model.ProjectOption, d *Draft, env string) (*Draft, View, *Result, error) {
	found := false
	for _, candidate := range opt.Environments {
		if candidate == env {
			found = true
			break
		}
	}
	if !found {
		return d, e.renderEnvironment(opt, d), nil, nil
	}
	d.Environment = env
	d.Services = nil

	if d.AddressOnly {
		// Services are auto-selected from the project's configuration for
		// display in the running summary; the address-only wire format
		// (FormatSubmissionData) never emits them, so this is informational
		// only and never reaches the SSO/Jenkins orchestrators.
		if envKey, ok := opt.EnvKey(env); ok {
			d.Services = opt.Services[envKey]
		}
		d.Step = StepAddressInput
		if err := e.save(ctx, d); err != nil {
			return nil, View{}, nil, err
		}
		return d, View{Text: e.summary(d) + "\n💡 Reply with one address per line."}, nil, nil
	}

	d.Step = StepBranch
	if err := e.save(ctx, d); err != nil {
		return nil, View{}, nil, err
	}
	return d, e.renderBranch(d), nil, nil
}

func (e *Engine) submit(ctx context.Context, d *Draft) (*Draft, View, *Result, error) {
	details := model.OrderDetails{
		ApplyTime:   d.ApplyTime,
		Project:     d.Project,
		Environment: d.Environment,
		Addresses:   d.Addresses,
	}
	if !d.AddressOnly {
		// d.Services is only ever auto-populated (not user-chosen) on an
		// address-only draft, purely for the chat summary; the wire format
		// never emits services/hash for that flow (§4.4.8), so they're left
		// off OrderDetails too.
		details.Branch = d.Branch
		details.Services = d.Services
		details.Content = d.Content
		if d.Hash != "" {
			details.Hashes = make([]string, len(d.Services))
			for i := range details.Hashes {
				details.Hashes[i] = d.Hash
			}
		}
	}

	templateType := model.TemplateDefault
	if d.AddressOnly {
		templateType = model.TemplateAddressOnly
	}

	result := &Result{
		Project:        d.Project,
		TemplateType:   templateType,
		SubmissionData: model.FormatSubmissionData(details),
		OrderDetails:   details,
	}

	if err := e.Cancel(ctx, d.ChatID, d.UserID); err != nil {
		return nil, View{}, nil, err
	}
	return nil, View{Text: "✅ Submitted for approval."}, result, nil
}

func toggle(list []string, value string) []string {
	for i, v := range list {
		if v == value {
			return append(list[:i], list[i+1:]...)
		}
	}
	return append(list, value)
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (v View) withNotice(notice string) View {
	return View{Text: v.Text + "\n⚠️ " + notice, Buttons: v.Buttons}
}

// summary renders the running progress block shared by every step (spec
// §4.4 rule 7): completed fields prefixed ✅, nothing left pending once the
// step-specific renderers append their own "⏳ ..." line.
func (e *Engine) summary(d *Draft) string {
	var b strings.Builder
	b.WriteString("📋 Deployment request\n\n")
	fmt.Fprintf(&b, "✅ Time: %s\n", d.ApplyTime)
	fmt.Fprintf(&b, "✅ Project: %s\n", d.Project)
	if d.Environment != "" {
		fmt.Fprintf(&b, "✅ Environment: %s\n", d.Environment)
	}
	if d.AddressOnly {
		if len(d.Addresses) > 0 {
			fmt.Fprintf(&b, "✅ Addresses: %s\n", strings.Join(d.Addresses, ", "))
		}
		return strings.TrimRight(b.String(), "\n")
	}
	if d.Branch != "" {
		fmt.Fprintf(&b, "✅ Branch: %s\n", d.Branch)
	}
	if len(d.Services) > 0 {
		fmt.Fprintf(&b, "✅ Services: %s\n", strings.Join(d.Services, ", "))
	}
	if d.Hash != "" {
		fmt.Fprintf(&b, "✅ Hash: %s\n", d.Hash)
	}
	if d.Content != "" {
		fmt.Fprintf(&b, "✅ Content: %s\n", d.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *Engine) renderEnvironment(opt model.ProjectOption, d *Draft) View {
	buttons := make([]chatapi.Button, 0, len(opt.Environments))
	for _, env := range opt.Environments {
		buttons = append(buttons, chatapi.Button{Text: env, Data: "env:" + env})
	}
	return View{Text: e.summary(d) + "\n⏳ Environment: choose one", Buttons: buttons}
}

func (e *Engine) renderBranch(d *Draft) View {
	return View{
		Text: e.summary(d) + "\n⏳ Branch: choose default or custom",
		Buttons: []chatapi.Button{
			{Text: "Use default", Data: "branch:default"},
			{Text: "Custom", Data: "branch:custom"},
		},
	}
}

func (e *Engine) renderServices(opt model.ProjectOption, d *Draft) View {
	envKey, _ := opt.EnvKey(d.Environment)
	services := opt.Services[envKey]
	buttons := make([]chatapi.Button, 0, len(services)+1)
	for _, svc := range services {
		label := svc
		for _, selected := range d.Services {
			if selected == svc {
				label = "✓ " + svc
				break
			}
		}
		buttons = append(buttons, chatapi.Button{Text: label, Data: "service:" + svc})
	}
	buttons = append(buttons, chatapi.Button{Text: "done", Data: "service:done"})
	selectedText := "none yet"
	if len(d.Services) > 0 {
		selectedText = strings.Join(d.Services, ", ")
	}
	return View{
		Text:    e.summary(d) + fmt.Sprintf("\n⏳ Services: %s (tap to toggle, then done)", selectedText),
		Buttons: buttons,
	}
}

func (e *Engine) renderConfirm(d *Draft) View {
	return View{
		Text: e.summary(d) + "\n\nSubmit this request?",
		Buttons: []chatapi.Button{
			{Text: "✅ Submit", Data: "confirm:submit"},
			{Text: "❌ Cancel", Data: "confirm:cancel"},
		},
	}
}
