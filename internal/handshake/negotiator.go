package handshake

import (
	"errors"
	"log/slog"

	"webime/internal/channel"
)

// ScriptRunner evaluates scripts in the loaded content.
type ScriptRunner interface {
	RunScript(command string, onResult func(result string)) bool
}

// ChannelHolder owns the single active channel.
type ChannelHolder interface {
	Channel() channel.Channel
	SetChannel(ch channel.Channel)
}

// Config holds the command names and version format.
type Config struct {
	PrepareCommand   string
	ActivateCommand  string
	MaxCommandLength int
	VersionDelimiter string
	VersionTokens    int
	// Kinds maps major versions to channel kinds. Nil uses the static table.
	Kinds map[int]channel.Kind
}

// Stats counts negotiation outcomes.
type Stats struct {
	Attempts    int
	Negotiated  int
	Failed      int
	Activations int
}

// Negotiator runs the prepare/activate exchange after each content load and
// installs the channel selected by the reported version.
type Negotiator struct {
	cfg     Config
	keys    *MagicKeyManager
	runner  ScriptRunner
	holder  ChannelHolder
	factory channel.Factory
	logger  *slog.Logger

	stats   Stats
	version string
}

// NewNegotiator wires a negotiator. Callbacks from runner must arrive on the
// same loop as calls to Begin.
func NewNegotiator(cfg Config, keys *MagicKeyManager, runner ScriptRunner, holder ChannelHolder, factory channel.Factory, logger *slog.Logger) *Negotiator {
	return &Negotiator{
		cfg:     cfg,
		keys:    keys,
		runner:  runner,
		holder:  holder,
		factory: factory,
		logger:  logger,
	}
}

// Begin issues the prepare command carrying the magic key. It is called when
// the content reports it finished loading.
func (n *Negotiator) Begin() bool {
	n.stats.Attempts++
	cmd := FormatCommand(n.cfg.MaxCommandLength, n.cfg.PrepareCommand, n.keys.Key())
	n.logger.Debug("issuing prepare", "command", n.cfg.PrepareCommand)
	if !n.runner.RunScript(cmd, n.prepared) {
		n.stats.Failed++
		n.logger.Warn("prepare command rejected", "command", n.cfg.PrepareCommand)
		return false
	}
	return true
}

// prepared handles the version string returned by the prepare command.
func (n *Negotiator) prepared(result string) {
	n.version = result
	n.logger.Info("content version", "version", result)

	if err := n.negotiate(result); err != nil {
		n.stats.Failed++
		n.logger.Warn("negotiation failed", "error", err)
	} else {
		n.stats.Negotiated++
	}

	n.activate()
}

func (n *Negotiator) negotiate(result string) error {
	v, err := ParseVersion(result, n.cfg.VersionDelimiter, n.cfg.VersionTokens)
	if errors.Is(err, ErrTokenCount) {
		// Legacy content: keep whatever channel is installed.
		return err
	}

	var kind channel.Kind
	if err == nil {
		var ok bool
		if kind, ok = n.kindFor(v.Major); !ok {
			err = &NegotiationError{Input: result, Reason: ErrUnknownVersion}
		}
	}

	if old := n.holder.Channel(); old != nil {
		old.Exit()
		n.holder.SetChannel(nil)
		n.logger.Debug("previous channel closed", "kind", old.Kind().String())
	}
	if err != nil {
		return err
	}

	ch := n.factory(kind)
	if ch == nil {
		return &NegotiationError{Input: result, Reason: ErrUnknownVersion}
	}
	n.holder.SetChannel(ch)
	if !ch.Init() {
		n.logger.Warn("channel init failed", "kind", kind.String())
	}
	n.logger.Info("channel negotiated", "kind", kind.String(), "major", v.Major)
	return nil
}

func (n *Negotiator) kindFor(major int) (channel.Kind, bool) {
	if n.cfg.Kinds == nil {
		return KindForMajor(major)
	}
	k, ok := n.cfg.Kinds[major]
	return k, ok
}

func (n *Negotiator) activate() {
	n.stats.Activations++
	cmd := FormatCommand(n.cfg.MaxCommandLength, n.cfg.ActivateCommand)
	if !n.runner.RunScript(cmd, nil) {
		n.logger.Warn("activate command rejected", "command", n.cfg.ActivateCommand)
	}
}

// Stats returns the negotiation counters.
func (n *Negotiator) Stats() Stats {
	return n.stats
}

// ContentVersion returns the last version string reported by the content.
func (n *Negotiator) ContentVersion() string {
	return n.version
}
