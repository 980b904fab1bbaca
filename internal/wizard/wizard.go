// Package wizard implements the per-operator conversational flows for
// adding, removing, and updating catalog entries. The engine is transport
// agnostic: it consumes operator text and document uploads and produces
// prompts for the messaging layer to render.
package wizard

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/egorin/apkhub/internal/catalog"
	"github.com/egorin/apkhub/internal/pipeline"
)

const (
	defaultIdleTimeout = 30 * time.Minute

	cancelCommand     = "/cancel"
	newCategoryChoice = "➕ New category"
	confirmChoice     = "Confirm"
	replaceChoice     = "Replace"
	cancelChoice      = "Cancel"

	triggerWizard = "wizard"

	msgUnauthorized = "⛔ You are not authorized to manage the catalog."
)

var titleRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Prompt is one message back to the operator. Choices, when present, are
// rendered as a reply keyboard. Done means the flow finished (or never
// started) and the keyboard should be cleared.
type Prompt struct {
	Text    string
	Choices []string
	Done    bool
}

func say(format string, args ...any) Prompt {
	return Prompt{Text: fmt.Sprintf(format, args...), Done: true}
}

func ask(text string, choices ...string) Prompt {
	return Prompt{Text: text, Choices: choices}
}

type step int

const (
	stepAddSource step = iota
	stepAddTitle
	stepAddDescription
	stepAddCategory
	stepAddNewCategory
	stepAddMethod
	stepAddSourceURL

	stepRemoveSelect
	stepRemoveConfirm

	stepUpdateStart
	stepUpdatePackage
	stepUpdatePick
	stepUpdateConfirm
)

type session struct {
	step       step
	touched    time.Time
	staged     *pipeline.Staged
	draft      catalog.App
	target     string
	candidates []string
	skip       pipeline.Result
}

func (s *session) discard() {
	if s.staged != nil {
		s.staged.Discard()
		s.staged = nil
	}
}

// Engine runs at most one wizard session per operator.
type Engine struct {
	mu       sync.Mutex
	sessions map[int64]*session
	store    *catalog.Store
	pipe     *pipeline.Pipeline
	adminID  int64
	domain   string
	idle     time.Duration
	now      func() time.Time
}

// NewEngine creates a wizard engine. Only adminID may start or continue
// flows; domain is the public base URL for catalog download links.
func NewEngine(store *catalog.Store, pipe *pipeline.Pipeline, adminID int64, domain string) *Engine {
	return &Engine{
		sessions: make(map[int64]*session),
		store:    store,
		pipe:     pipe,
		adminID:  adminID,
		domain:   strings.TrimRight(domain, "/"),
		idle:     defaultIdleTimeout,
		now:      time.Now,
	}
}

// session returns the operator's live session, reaping it first if idle.
func (e *Engine) session(op int64) *session {
	s := e.sessions[op]
	if s == nil {
		return nil
	}
	if e.now().Sub(s.touched) > e.idle {
		log.Printf("[wizard] session for %d expired", op)
		s.discard()
		delete(e.sessions, op)
		return nil
	}
	return s
}

func (e *Engine) drop(op int64) {
	if s := e.sessions[op]; s != nil {
		s.discard()
		delete(e.sessions, op)
	}
}

// Active reports whether the operator has a live session.
func (e *Engine) Active(op int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session(op) != nil
}

// ReapIdle drops sessions idle past the timeout and releases their staged
// files. Returns the number reaped.
func (e *Engine) ReapIdle() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for op, s := range e.sessions {
		if e.now().Sub(s.touched) > e.idle {
			s.discard()
			delete(e.sessions, op)
			n++
		}
	}
	return n
}

// Cancel aborts the operator's flow, if any, discarding staged files.
func (e *Engine) Cancel(op int64) Prompt {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session(op) == nil {
		return say("Nothing to cancel.")
	}
	e.drop(op)
	return say("Operation cancelled.")
}

// StartAdd begins the add-app flow.
func (e *Engine) StartAdd(op int64) Prompt {
	e.mu.Lock()
	defer e.mu.Unlock()
	if op != e.adminID {
		return say(msgUnauthorized)
	}
	e.drop(op)
	e.sessions[op] = &session{step: stepAddSource, touched: e.now()}
	return ask("Send the APK file, or a direct download URL:")
}

// StartRemove begins the remove-app flow.
func (e *Engine) StartRemove(op int64) Prompt {
	e.mu.Lock()
	defer e.mu.Unlock()
	if op != e.adminID {
		return say(msgUnauthorized)
	}
	c, err := e.store.Load()
	if err != nil {
		return say("❌ Failed to load the catalog: %v", err)
	}
	if len(c.Apps) == 0 {
		return say("The catalog is empty.")
	}
	e.drop(op)
	e.sessions[op] = &session{step: stepRemoveSelect, touched: e.now()}
	return ask("Select the app to remove:", titles(c)...)
}

// StartUpdate begins the update-app flow.
func (e *Engine) StartUpdate(op int64) Prompt {
	e.mu.Lock()
	defer e.mu.Unlock()
	if op != e.adminID {
		return say(msgUnauthorized)
	}
	c, err := e.store.Load()
	if err != nil {
		return say("❌ Failed to load the catalog: %v", err)
	}
	if len(c.Apps) == 0 {
		return say("The catalog is empty. Use /addapp first.")
	}
	e.drop(op)
	e.sessions[op] = &session{step: stepUpdateStart, touched: e.now()}
	return ask("Send the new APK file or a download URL, or pick the app first:", titles(c)...)
}

// HandleText feeds operator text into the active flow. The second return is
// false when the operator has no live session and the text should be
// ignored by the caller.
func (e *Engine) HandleText(ctx context.Context, op int64, text string) (Prompt, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session(op)
	if s == nil {
		return Prompt{}, false
	}
	text = strings.TrimSpace(text)
	if text == cancelCommand {
		e.drop(op)
		return say("Operation cancelled."), true
	}
	s.touched = e.now()

	switch s.step {
	case stepAddSource:
		return e.addSourceText(ctx, op, s, text), true
	case stepAddTitle:
		return e.addTitle(s, text), true
	case stepAddDescription:
		return e.addDescription(s, text), true
	case stepAddCategory:
		return e.addCategory(s, text), true
	case stepAddNewCategory:
		return e.addNewCategory(s, text), true
	case stepAddMethod:
		return e.addMethod(ctx, op, s, text), true
	case stepAddSourceURL:
		return e.addSourceURL(ctx, op, s, text), true

	case stepRemoveSelect:
		return e.removeSelect(s, text), true
	case stepRemoveConfirm:
		return e.removeConfirm(op, s, text), true

	case stepUpdateStart:
		return e.updateStart(ctx, op, s, text), true
	case stepUpdatePackage:
		return e.updatePackage(ctx, op, s, text), true
	case stepUpdatePick:
		return e.updatePick(ctx, op, s, text), true
	case stepUpdateConfirm:
		return e.updateConfirm(ctx, op, s, text), true
	}
	e.drop(op)
	return say("❌ Internal error, flow aborted."), true
}

// HandleUpload feeds a document upload into the active flow. With no live
// session it starts an implicit update flow, so an operator can push a new
// build by just sending the file.
func (e *Engine) HandleUpload(ctx context.Context, op int64, filename, fileURL string) Prompt {
	e.mu.Lock()
	defer e.mu.Unlock()

	if op != e.adminID {
		return say(msgUnauthorized)
	}
	if !strings.HasSuffix(strings.ToLower(filename), ".apk") {
		return ask("Only .apk files are accepted. Try again, or /cancel.")
	}

	s := e.session(op)
	if s == nil {
		s = &session{step: stepUpdateStart, touched: e.now()}
		e.sessions[op] = s
	}
	s.touched = e.now()

	switch s.step {
	case stepAddSource:
		return e.stageInto(ctx, op, s, fileURL, filename, stepAddTitle,
			"Got it (version %s). Enter the app title:")
	case stepUpdateStart, stepUpdatePackage:
		st, err := e.pipe.Stage(ctx, fileURL, filename)
		if err != nil {
			return ask(fmt.Sprintf("❌ Could not fetch the file: %v\nTry again, or /cancel.", err))
		}
		s.discard()
		s.staged = st
		return e.resolveAndPublish(ctx, op, s)
	default:
		return ask("Finish the current step first, or /cancel.")
	}
}

// --- add flow ---

func (e *Engine) addSourceText(ctx context.Context, op int64, s *session, text string) Prompt {
	name, ok := apkURLName(text)
	if !ok {
		return ask("Send an APK file or a direct http(s) link to one:")
	}
	return e.stageInto(ctx, op, s, text, name, stepAddTitle,
		"Got it (version %s). Enter the app title:")
}

func (e *Engine) stageInto(ctx context.Context, op int64, s *session, src, filename string, next step, format string) Prompt {
	st, err := e.pipe.Stage(ctx, src, filename)
	if err != nil {
		return ask(fmt.Sprintf("❌ Could not fetch the file: %v\nTry again, or /cancel.", err))
	}
	s.discard()
	s.staged = st
	s.step = next
	return ask(fmt.Sprintf(format, st.Version))
}

func (e *Engine) addTitle(s *session, text string) Prompt {
	if !titleRe.MatchString(text) {
		return ask("Titles may only contain letters, digits, '_' and '-'. Enter the app title:")
	}
	c, err := e.store.Load()
	if err == nil && c.FindByTitle(text) >= 0 {
		return ask("An app with that title already exists. Enter a different title:")
	}
	s.draft.Title = text
	s.step = stepAddDescription
	return ask("Enter a short description:")
}

func (e *Engine) addDescription(s *session, text string) Prompt {
	if text == "" {
		return ask("The description cannot be empty. Enter a short description:")
	}
	s.draft.Description = text
	s.step = stepAddCategory
	return ask("Pick a category:", e.categoryChoices()...)
}

func (e *Engine) categoryChoices() []string {
	choices := []string{}
	if c, err := e.store.Load(); err == nil {
		choices = c.Categories()
	}
	return append(choices, newCategoryChoice)
}

func (e *Engine) addCategory(s *session, text string) Prompt {
	if text == newCategoryChoice {
		s.step = stepAddNewCategory
		return ask("Enter the new category name:")
	}
	for _, cat := range e.categoryChoices() {
		if cat == text {
			s.draft.Category = text
			s.step = stepAddMethod
			return ask("How should updates be fetched?", catalog.MethodManual, catalog.MethodDirect)
		}
	}
	return ask("Pick a category from the list:", e.categoryChoices()...)
}

func (e *Engine) addNewCategory(s *session, text string) Prompt {
	if text == "" {
		return ask("The category name cannot be empty. Enter the new category name:")
	}
	s.draft.Category = text
	s.step = stepAddMethod
	return ask("How should updates be fetched?", catalog.MethodManual, catalog.MethodDirect)
}

func (e *Engine) addMethod(ctx context.Context, op int64, s *session, text string) Prompt {
	switch text {
	case catalog.MethodManual:
		s.draft.SourceMethod = catalog.MethodManual
		return e.finalizeAdd(ctx, op, s)
	case catalog.MethodDirect:
		s.draft.SourceMethod = catalog.MethodDirect
		s.step = stepAddSourceURL
		return ask("Enter the update-source URL:")
	}
	return ask("Pick one:", catalog.MethodManual, catalog.MethodDirect)
}

func (e *Engine) addSourceURL(ctx context.Context, op int64, s *session, text string) Prompt {
	if !isHTTPURL(text) {
		return ask("That is not an http(s) URL. Enter the update-source URL:")
	}
	s.draft.SourceUpdate = text
	return e.finalizeAdd(ctx, op, s)
}

func (e *Engine) finalizeAdd(ctx context.Context, op int64, s *session) Prompt {
	ver := s.staged.Version
	s.draft.URL = e.domain + "/apks/" + s.draft.Title + ".apk"

	app := s.draft
	if err := e.pipe.Add(ctx, app, s.staged); err != nil {
		e.drop(op)
		return say("❌ Could not add the app: %v", err)
	}
	s.staged = nil
	e.drop(op)
	e.pipe.RecordOutcome(&app, pipeline.Result{Outcome: pipeline.OutcomeAdded, NewVersion: ver}, triggerWizard)
	return say("✅ Added %s (version %s).", app.Title, ver)
}

// --- remove flow ---

func (e *Engine) removeSelect(s *session, text string) Prompt {
	c, err := e.store.Load()
	if err != nil {
		return ask(fmt.Sprintf("❌ Failed to load the catalog: %v\nSelect the app to remove:", err))
	}
	if c.FindByTitle(text) < 0 {
		return ask("Select an app from the list:", titles(c)...)
	}
	s.target = text
	s.step = stepRemoveConfirm
	return ask(fmt.Sprintf("Remove %s from the catalog? The installed file will be deleted.", text),
		confirmChoice, cancelChoice)
}

func (e *Engine) removeConfirm(op int64, s *session, text string) Prompt {
	switch text {
	case confirmChoice:
		target := s.target
		e.drop(op)
		c, err := e.store.Load()
		if err != nil {
			return say("❌ Failed to load the catalog: %v", err)
		}
		i := c.FindByTitle(target)
		if i < 0 {
			return say("❌ %s is no longer in the catalog.", target)
		}
		if err := e.pipe.Remove(c.Apps[i]); err != nil {
			return say("❌ Could not remove %s: %v", target, err)
		}
		return say("🗑 %s removed.", target)
	case cancelChoice:
		e.drop(op)
		return say("Operation cancelled.")
	}
	return ask(fmt.Sprintf("Remove %s?", s.target), confirmChoice, cancelChoice)
}

// --- update flow ---

func (e *Engine) updateStart(ctx context.Context, op int64, s *session, text string) Prompt {
	c, err := e.store.Load()
	if err != nil {
		return ask(fmt.Sprintf("❌ Failed to load the catalog: %v\nTry again, or /cancel.", err))
	}
	if c.FindByTitle(text) >= 0 {
		s.target = text
		s.step = stepUpdatePackage
		return ask(fmt.Sprintf("Send the new APK file or a download URL for %s:", text))
	}
	if name, ok := apkURLName(text); ok {
		st, err := e.pipe.Stage(ctx, text, name)
		if err != nil {
			return ask(fmt.Sprintf("❌ Could not fetch the file: %v\nTry again, or /cancel.", err))
		}
		s.staged = st
		return e.resolveAndPublish(ctx, op, s)
	}
	return ask("Send an APK file, a direct http(s) link, or pick an app:", titles(c)...)
}

func (e *Engine) updatePackage(ctx context.Context, op int64, s *session, text string) Prompt {
	name, ok := apkURLName(text)
	if !ok {
		return ask(fmt.Sprintf("Send the new APK file or a direct http(s) link for %s:", s.target))
	}
	st, err := e.pipe.Stage(ctx, text, name)
	if err != nil {
		return ask(fmt.Sprintf("❌ Could not fetch the file: %v\nTry again, or /cancel.", err))
	}
	s.staged = st
	return e.resolveAndPublish(ctx, op, s)
}

// resolveAndPublish runs fuzzy target resolution when no target is picked
// yet, then hands the staged package to the pipeline.
func (e *Engine) resolveAndPublish(ctx context.Context, op int64, s *session) Prompt {
	if s.target == "" {
		c, err := e.store.Load()
		if err != nil {
			e.drop(op)
			return say("❌ Failed to load the catalog: %v", err)
		}
		matches := c.MatchFilename(s.staged.Filename())
		switch len(matches) {
		case 0:
			s.step = stepUpdatePick
			s.candidates = titles(c)
			return ask("No catalog entry matches this file. Pick the app to update:", s.candidates...)
		case 1:
			s.target = c.Apps[matches[0]].Title
		default:
			s.step = stepUpdatePick
			s.candidates = make([]string, 0, len(matches))
			for _, i := range matches {
				s.candidates = append(s.candidates, c.Apps[i].Title)
			}
			return ask("Several apps match this file. Pick one:", s.candidates...)
		}
	}
	return e.publish(ctx, op, s, false)
}

func (e *Engine) updatePick(ctx context.Context, op int64, s *session, text string) Prompt {
	for _, t := range s.candidates {
		if t == text {
			s.target = t
			return e.publish(ctx, op, s, false)
		}
	}
	return ask("Pick an app from the list:", s.candidates...)
}

func (e *Engine) updateConfirm(ctx context.Context, op int64, s *session, text string) Prompt {
	switch text {
	case replaceChoice:
		return e.publish(ctx, op, s, true)
	case cancelChoice:
		e.drop(op)
		return say("Operation cancelled, %s unchanged.", s.target)
	}
	return ask("Replace the installed file?", replaceChoice, cancelChoice)
}

func (e *Engine) publish(ctx context.Context, op int64, s *session, force bool) Prompt {
	c, err := e.store.Load()
	if err != nil {
		e.drop(op)
		return say("❌ Failed to load the catalog: %v", err)
	}
	i := c.FindByTitle(s.target)
	if i < 0 {
		e.drop(op)
		return say("❌ %s is no longer in the catalog.", s.target)
	}
	app := c.Apps[i]

	res := e.pipe.PublishStaged(ctx, &app, s.staged, force)
	switch res.Outcome {
	case pipeline.OutcomeUpdated, pipeline.OutcomeAdded:
		s.staged = nil
		e.drop(op)
		e.pipe.RecordOutcome(&app, res, triggerWizard)
		return say("✅ %s updated: %s → %s", app.Title, res.OldVersion, res.NewVersion)
	case pipeline.OutcomeSkipped:
		s.step = stepUpdateConfirm
		s.skip = res
		return ask(fmt.Sprintf("Installed version is %s, this file is %s (%s). Replace anyway?",
			res.OldVersion, res.NewVersion, skipText(res.Skip)),
			replaceChoice, cancelChoice)
	default:
		e.drop(op)
		e.pipe.RecordOutcome(&app, res, triggerWizard)
		return say("❌ Update failed: %v", res.Err)
	}
}

func skipText(r pipeline.SkipReason) string {
	switch r {
	case pipeline.SkipHashMatch:
		return "identical file already installed"
	case pipeline.SkipDowngrade:
		return "older than installed"
	case pipeline.SkipRebuild:
		return "same version, different build"
	}
	return string(r)
}

func titles(c *catalog.Catalog) []string {
	out := make([]string, 0, len(c.Apps))
	for _, a := range c.Apps {
		out = append(out, a.Title)
	}
	return out
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// apkURLName validates s as a direct http(s) link to an .apk and returns
// the filename to stage under.
func apkURLName(s string) (string, bool) {
	if !isHTTPURL(s) {
		return "", false
	}
	u, _ := url.Parse(s)
	name := path.Base(u.Path)
	if !strings.HasSuffix(strings.ToLower(name), ".apk") {
		return "", false
	}
	return name, true
}
