// Package dispatch is the conversational core: it classifies inbound
// Slack events, maps them onto per-conversation agent sessions, steers
// running executions with follow-up messages, and narrates progress back
// through the status/persona two-post flow. Reactions carry the side
// controls: summoning an instance onto a message, regenerating a
// response, and cancelling a run.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	slackapi "github.com/slack-go/slack"

	"github.com/troupehq/troupe/internal/cache"
	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/metrics"
	"github.com/troupehq/troupe/internal/onboard"
	"github.com/troupehq/troupe/internal/outbox"
	"github.com/troupehq/troupe/internal/slack"
	"github.com/troupehq/troupe/internal/workers"
)

// Kind labels how an inbound event was classified, mirrored into the
// events metric.
type Kind string

const (
	KindSummon     Kind = "summon"
	KindRegenerate Kind = "regenerate"
	KindCancel     Kind = "cancel"
	KindFileShare  Kind = "file_share"
	KindRoundtable Kind = "roundtable"
	KindDirected   Kind = "directed"
	KindFollowUp   Kind = "follow_up"
	KindDefault    Kind = "default"
	KindMention    Kind = "mention"
	KindIgnored    Kind = "ignored"
)

// RoundtableOwner marks a thread owned by the roundtable rather than a
// single instance. Underscore-prefixed so it can never collide with a
// configured instance name.
const RoundtableOwner = "_ROUNDTABLE"

const (
	hourglassReaction = "hourglass_flowing_sand"
	envelopeReaction  = "incoming_envelope"
	ackReaction       = "white_check_mark"

	cancelReaction        = "x"
	regenerateReaction    = "repeat"
	regenerateReactionAlt = "arrows_counterclockwise"
)

const (
	// summonTTL bounds how long a summon key blocks redeliveries; Slack
	// retries land within seconds, so ten minutes is generous.
	summonTTL     = 10 * time.Minute
	summonMaxKeys = 4096

	// regenerateMemory is how many bot responses stay replayable.
	regenerateMemory = 1000

	defaultOwnerCapacity  = 10000
	defaultRoundtablePace = 1500 * time.Millisecond
)

// promptRecord is what regeneration needs to replay an exchange.
type promptRecord struct {
	instance string
	conv     string
	channel  string
	threadTS string
	prompt   string
}

// Config wires a Dispatcher. Engine, Client, and at least one instance
// are required; everything else degrades gracefully when absent.
type Config struct {
	Instances       []config.InstanceConfig
	DefaultInstance string

	Engine Engine
	Client slack.Client

	// Poster is built over Client when nil.
	Poster     *slack.Poster
	Approvals  *slack.Approvals
	Displays   *slack.Displays
	Onboarding *onboard.Manager
	Outbox     *outbox.Processor
	Workers    *workers.Manager
	Metrics    *metrics.Metrics

	// OutboxWatch uploads outbox files as they appear instead of only
	// after the run.
	OutboxWatch bool

	FileSizeCap    int64
	OwnerCapacity  int
	StatusThrottle time.Duration
	Logger         *slog.Logger
}

// Dispatcher implements slack.Handler over the agent engine.
type Dispatcher struct {
	engine    Engine
	client    slack.Client
	poster    *slack.Poster
	approvals *slack.Approvals
	displays  *slack.Displays
	onboard   *onboard.Manager
	outbox    *outbox.Processor
	workers   *workers.Manager
	metrics   *metrics.Metrics
	logger    *slog.Logger

	instances   []config.InstanceConfig
	names       []string
	defaultName string
	fileSizeCap int64
	throttle    time.Duration
	watch       bool
	pace        time.Duration

	owners  *cache.LRU[string]
	prompts *cache.LRU[promptRecord]
	summons *cache.Dedupe
	topics  *topicCache
	active  *activeSet

	storeMu sync.Mutex
	stores  map[string]*workers.Store

	mu        sync.RWMutex
	botUserID string

	wg sync.WaitGroup
}

// New builds a dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Engine == nil {
		return nil, errors.New("dispatch: engine is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("dispatch: slack client is required")
	}
	if len(cfg.Instances) == 0 {
		return nil, errors.New("dispatch: at least one instance is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "dispatch")

	names := make([]string, len(cfg.Instances))
	for i, inst := range cfg.Instances {
		names[i] = inst.Name
	}
	defaultName := cfg.DefaultInstance
	if defaultName == "" {
		defaultName = names[0]
	}
	found := false
	for _, n := range names {
		if n == defaultName {
			found = true
			break
		}
	}
	if !found {
		return nil, errors.New("dispatch: default instance " + defaultName + " is not configured")
	}

	poster := cfg.Poster
	if poster == nil {
		poster = slack.NewPoster(cfg.Client, logger)
	}
	ownerCap := cfg.OwnerCapacity
	if ownerCap <= 0 {
		ownerCap = defaultOwnerCapacity
	}

	d := &Dispatcher{
		engine:      cfg.Engine,
		client:      cfg.Client,
		poster:      poster,
		approvals:   cfg.Approvals,
		displays:    cfg.Displays,
		onboard:     cfg.Onboarding,
		outbox:      cfg.Outbox,
		workers:     cfg.Workers,
		metrics:     cfg.Metrics,
		logger:      logger,
		instances:   cfg.Instances,
		names:       names,
		defaultName: defaultName,
		fileSizeCap: cfg.FileSizeCap,
		throttle:    cfg.StatusThrottle,
		watch:       cfg.OutboxWatch,
		pace:        defaultRoundtablePace,
		owners:      cache.NewLRU[string](ownerCap),
		prompts:     cache.NewLRU[promptRecord](regenerateMemory),
		summons:     cache.NewDedupe(summonTTL, summonMaxKeys),
		active:      newActiveSet(),
		stores:      make(map[string]*workers.Store),
	}
	d.topics = newTopicCache(cfg.Client, names, logger)
	if d.metrics != nil && d.approvals != nil {
		d.approvals.Observe(d.metrics.ApprovalResolved)
	}
	return d, nil
}

// SetBotUser records the authenticated bot user id, used to drop our own
// echoes and the message copy of app mentions.
func (d *Dispatcher) SetBotUser(id string) {
	d.mu.Lock()
	d.botUserID = id
	d.mu.Unlock()
}

// BotUser returns the recorded bot user id.
func (d *Dispatcher) BotUser() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.botUserID
}

// Schedule registers periodic maintenance on the shared cron: pruning the
// summon dedupe set.
func (d *Dispatcher) Schedule(c *cron.Cron) error {
	if _, err := c.AddFunc("@every 5m", d.summons.Prune); err != nil {
		return err
	}
	return nil
}

// Active reports how many executions are currently running.
func (d *Dispatcher) Active() int {
	return d.active.len()
}

// Close waits for every spawned handler goroutine to finish. In-flight
// executions observe their context; cancel it before closing for a hard
// stop.
func (d *Dispatcher) Close() {
	d.wg.Wait()
}

func (d *Dispatcher) spawn(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

// OnMessage classifies and routes a message event. Work happens on a
// spawned goroutine; the socket pump only pays for the echo checks.
func (d *Dispatcher) OnMessage(ctx context.Context, ev *slack.MessageEvent) {
	if ev == nil || ev.User == "" || ev.User == d.BotUser() {
		return
	}
	if !ev.Mention && d.mentionsBot(ev.Text) {
		// The app_mention copy of this message arrives as its own event.
		return
	}
	d.spawn(func() { d.handleMessage(ctx, ev) })
}

// OnReaction handles the reaction controls: summon, regenerate, cancel.
func (d *Dispatcher) OnReaction(ctx context.Context, ev *slack.ReactionEvent) {
	if ev == nil || ev.Removed || ev.User == "" || ev.User == d.BotUser() {
		return
	}
	switch {
	case d.isInstance(ev.Reaction):
		d.spawn(func() { d.handleSummon(ctx, ev) })
	case ev.Reaction == regenerateReaction || ev.Reaction == regenerateReactionAlt:
		d.spawn(func() { d.handleRegenerate(ctx, ev) })
	case ev.Reaction == cancelReaction:
		d.spawn(func() { d.handleCancel(ctx, ev) })
	}
}

// OnBlockAction routes button clicks to the approval surface.
func (d *Dispatcher) OnBlockAction(ctx context.Context, ev *slack.BlockAction) {
	if ev == nil || d.approvals == nil {
		return
	}
	if d.approvals.Resolve(ev.ActionID, ev.Value) {
		d.logger.Debug("approval click routed", "action", ev.ActionID, "user", ev.User)
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, ev *slack.MessageEvent) {
	text := strings.TrimSpace(ev.Text)
	if ev.Mention {
		text = strings.TrimSpace(slack.StripMention(ev.Text))
	}
	if text == "" && len(ev.Files) == 0 {
		return
	}
	received := time.Now()
	conv := conversationID(ev)

	d.maybeWelcome(ctx, ev.User)
	newThread := false
	if d.onboard != nil {
		newThread = d.onboard.RecordThread(ev.User, conv)
	}

	// A live execution on this conversation absorbs the message.
	if e, ok := d.active.get(conv); ok && d.steer(ctx, e, ev, text) {
		return
	}

	var dir Directives
	if !ev.IsDM() {
		dir = d.topics.Get(ctx, ev.Channel)
	}

	dec := d.route(ev, text, dir, conv)
	if len(ev.Files) > 0 && dec.kind != KindIgnored {
		d.countEvent(KindFileShare)
	} else {
		d.countEvent(dec.kind)
	}
	if dec.kind == KindIgnored {
		return
	}
	if dec.kind == KindRoundtable {
		d.runRoundtable(ctx, conv, ev, text, dir)
		return
	}

	inst, ok := d.instance(dec.instance)
	if !ok {
		d.logger.Error("routed to unknown instance", "instance", dec.instance)
		return
	}

	var fileNote string
	if len(ev.Files) > 0 {
		fileNote = d.downloadFiles(ev.Files, inst.WorkingDir)
	}
	prompt := BuildPrompt(dec.text, ev.User, ev.Channel, dir.Name, fileNote)

	d.execute(ctx, runEnv{
		instance:  inst,
		conv:      conv,
		channel:   ev.Channel,
		threadTS:  postThread(ev),
		userTS:    ev.Timestamp,
		userID:    ev.User,
		userText:  dec.text,
		newThread: newThread,
		received:  received,
	}, prompt)
}

// decision is the outcome of classification: what the event is, which
// instance takes it, and the text that becomes the prompt.
type decision struct {
	kind     Kind
	instance string
	text     string
}

// route applies the classification table. First match wins; explicit
// addressing beats ownership, ownership beats defaults.
func (d *Dispatcher) route(ev *slack.MessageEvent, text string, dir Directives, conv string) decision {
	name, remaining, explicit := ParseInstancePrefix(text, d.names, d.defaultName)

	switch {
	case dir.Mode == ModeRoundtable && !explicit:
		return decision{kind: KindRoundtable, text: text}
	case dir.Instance != "":
		return decision{kind: KindDirected, instance: dir.Instance, text: text}
	case explicit:
		d.owners.Put(conv, name)
		return decision{kind: KindDirected, instance: name, text: remaining}
	}
	if owner, ok := d.owners.Get(conv); ok && owner != RoundtableOwner {
		return decision{kind: KindFollowUp, instance: owner, text: text}
	}
	if ev.IsDM() {
		return decision{kind: KindDefault, instance: d.defaultName, text: text}
	}
	if dir.Default != "" {
		return decision{kind: KindDefault, instance: dir.Default, text: text}
	}
	if ev.Mention {
		return decision{kind: KindMention, instance: d.defaultName, text: text}
	}
	return decision{kind: KindIgnored}
}

// steer hands a follow-up to a live execution and acknowledges it with
// the envelope reaction. Returns false when the execution drained first;
// the caller classifies the message fresh.
func (d *Dispatcher) steer(ctx context.Context, e *execution, ev *slack.MessageEvent, text string) bool {
	if !e.deliver(text, ev) {
		return false
	}
	d.countEvent(KindFollowUp)
	d.react(ctx, ev.Channel, ev.Timestamp, envelopeReaction)
	return true
}

// maybeWelcome sends the one-time orientation DM. The welcome mark is
// set synchronously so racing messages cannot double-send; the DM itself
// goes out on its own goroutine.
func (d *Dispatcher) maybeWelcome(ctx context.Context, userID string) {
	if d.onboard == nil || userID == "" || !d.onboard.NeedsWelcome(userID) {
		return
	}
	d.onboard.MarkWelcomed(userID)
	d.spawn(func() {
		channel, _, _, err := d.client.OpenConversationContext(ctx, &slackapi.OpenConversationParameters{
			Users: []string{userID},
		})
		if err != nil {
			d.logger.Warn("welcome dm open failed", "user", userID, "error", err)
			return
		}
		if _, err := d.poster.PostPlain(ctx, channel.ID, "", onboard.WelcomeText); err != nil {
			d.logger.Warn("welcome dm post failed", "user", userID, "error", err)
		}
		if err := d.onboard.Persist(userID); err != nil {
			d.logger.Warn("onboarding persist failed", "user", userID, "error", err)
		}
	})
}

func (d *Dispatcher) handleSummon(ctx context.Context, ev *slack.ReactionEvent) {
	inst, ok := d.instance(ev.Reaction)
	if !ok {
		return
	}
	if d.summons.Check("summon:" + inst.Name + ":" + ev.ItemTS) {
		return
	}
	d.countEvent(KindSummon)

	msg, err := d.fetchMessage(ctx, ev.Channel, ev.ItemTS)
	if err != nil {
		d.logger.Warn("summon target fetch failed",
			"channel", ev.Channel, "ts", ev.ItemTS, "error", err)
		return
	}
	dir := d.topics.Get(ctx, ev.Channel)
	channelName := dir.Name
	if channelName == "" {
		channelName = ev.Channel
	}

	// The summoned instance answers in the target's thread.
	threadTS := msg.ThreadTimestamp
	if threadTS == "" {
		threadTS = ev.ItemTS
	}

	d.execute(ctx, runEnv{
		instance: inst,
		conv:     ev.Channel + ":" + threadTS,
		channel:  ev.Channel,
		threadTS: threadTS,
		userTS:   ev.ItemTS,
		userID:   ev.User,
		userText: msg.Text,
		received: time.Now(),
	}, summonPrompt(ev.User, inst.Name, channelName, msg.Text))
}

func (d *Dispatcher) handleRegenerate(ctx context.Context, ev *slack.ReactionEvent) {
	rec, ok := d.prompts.Get(ev.ItemTS)
	if !ok {
		return
	}
	inst, ok := d.instance(rec.instance)
	if !ok {
		return
	}
	d.countEvent(KindRegenerate)
	d.logger.Info("regenerating response",
		"instance", rec.instance, "conversation", rec.conv, "by", ev.User)

	// No userTS: there is no fresh user message to decorate.
	d.execute(ctx, runEnv{
		instance: inst,
		conv:     rec.conv,
		channel:  rec.channel,
		threadTS: rec.threadTS,
		userText: rec.prompt,
		received: time.Now(),
	}, rec.prompt)
}

func (d *Dispatcher) handleCancel(ctx context.Context, ev *slack.ReactionEvent) {
	e := d.active.findByStatus(ev.Channel, ev.ItemTS)
	if e == nil {
		return
	}
	d.countEvent(KindCancel)
	e.cancelRun()
	d.react(ctx, ev.Channel, ev.ItemTS, ackReaction)
	d.logger.Info("execution cancelled",
		"instance", e.instance, "channel", ev.Channel, "by", ev.User)
}

// fetchMessage pulls one message by timestamp, for summons.
func (d *Dispatcher) fetchMessage(ctx context.Context, channel, ts string) (*slackapi.Message, error) {
	resp, err := d.client.GetConversationHistoryContext(ctx, &slackapi.GetConversationHistoryParameters{
		ChannelID: channel,
		Latest:    ts,
		Inclusive: true,
		Limit:     1,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, errors.New("message not found")
	}
	return &resp.Messages[0], nil
}

// conversationID derives the session key: DMs collapse to the user, and
// channel messages key on their thread root so a thread is one
// conversation.
func conversationID(ev *slack.MessageEvent) string {
	if ev.IsDM() {
		return "dm:" + ev.User
	}
	thread := ev.ThreadTS
	if thread == "" {
		thread = ev.Timestamp
	}
	return ev.Channel + ":" + thread
}

// postThread is where replies go: the existing thread, a new thread under
// the message, or top-level for DMs.
func postThread(ev *slack.MessageEvent) string {
	if ev.IsDM() {
		return ""
	}
	if ev.ThreadTS != "" {
		return ev.ThreadTS
	}
	return ev.Timestamp
}

func (d *Dispatcher) mentionsBot(text string) bool {
	id := d.BotUser()
	return id != "" && strings.Contains(text, "<@"+id+">")
}

func (d *Dispatcher) instance(name string) (config.InstanceConfig, bool) {
	for _, inst := range d.instances {
		if inst.Name == name {
			return inst, true
		}
	}
	return config.InstanceConfig{}, false
}

func (d *Dispatcher) isInstance(name string) bool {
	_, ok := d.instance(name)
	return ok
}

func (d *Dispatcher) countEvent(kind Kind) {
	if d.metrics != nil {
		d.metrics.EventClassified(string(kind))
	}
}

func (d *Dispatcher) react(ctx context.Context, channel, ts, name string) {
	if ts == "" {
		return
	}
	if err := d.poster.AddReaction(ctx, channel, ts, name); err != nil {
		d.logger.Warn("reaction failed", "name", name, "error", err)
	}
}

func (d *Dispatcher) unreact(ctx context.Context, channel, ts, name string) {
	if ts == "" {
		return
	}
	if err := d.poster.RemoveReaction(ctx, channel, ts, name); err != nil {
		d.logger.Warn("reaction removal failed", "name", name, "error", err)
	}
}
