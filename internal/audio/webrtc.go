package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"
)

// WebRTCConfig configures the pion-backed transport. SignalURL is the
// WHIP-style signalling endpoint that exchanges SDP offers for answers.
type WebRTCConfig struct {
	SignalURL  string
	ICEServers []string
	Timeout    time.Duration
}

// DefaultWebRTCConfig returns default transport configuration.
func DefaultWebRTCConfig(signalURL string) WebRTCConfig {
	return WebRTCConfig{
		SignalURL:  signalURL,
		ICEServers: []string{"stun:stun.l.google.com:19302"},
		Timeout:    15 * time.Second,
	}
}

// WebRTCTransport implements Transport on a pion PeerConnection. Publish
// attaches a local opus track; mute swaps the track out of the sender
// without touching join or publish state.
type WebRTCTransport struct {
	config WebRTCConfig
	client *http.Client

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	track   *webrtc.TrackLocalStaticSample
	sender  *webrtc.RTPSender
	channel string
	token   string

	events chan Event
}

var _ Transport = (*WebRTCTransport)(nil)

// NewWebRTCTransport creates an unconnected transport.
func NewWebRTCTransport(config WebRTCConfig) *WebRTCTransport {
	return &WebRTCTransport{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		events: make(chan Event, 64),
	}
}

// Events returns the asynchronous transport event channel.
func (t *WebRTCTransport) Events() <-chan Event {
	return t.events
}

// Join creates the peer connection, negotiates with the signalling edge
// and starts receiving room audio.
func (t *WebRTCTransport) Join(ctx context.Context, channel, token string, uid uint32) error {
	if t.config.SignalURL == "" {
		return ErrNotConfigured
	}

	iceServers := make([]webrtc.ICEServer, 0, len(t.config.ICEServers))
	for _, u := range t.config.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		_ = pc.Close()
		return fmt.Errorf("add recv transceiver: %w", err)
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.emit(Event{Kind: EventConnectionState, State: state.String()})
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		t.emit(Event{Kind: EventUserPublished})
		go t.drainRemote(remote)
	})

	t.mu.Lock()
	t.pc = pc
	t.channel = channel
	t.token = token
	t.mu.Unlock()

	if err := t.negotiate(ctx, pc); err != nil {
		t.mu.Lock()
		t.pc = nil
		t.mu.Unlock()
		_ = pc.Close()
		return err
	}

	log.Debug().Str("channel", channel).Msg("webrtc transport joined")
	return nil
}

// Publish attaches the local opus track and renegotiates.
func (t *WebRTCTransport) Publish(ctx context.Context) error {
	t.mu.Lock()
	pc := t.pc
	if pc == nil {
		t.mu.Unlock()
		return fmt.Errorf("publish before join")
	}
	if t.sender != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "matchtalk-mic",
	)
	if err != nil {
		return fmt.Errorf("create local track: %w", err)
	}

	sender, err := pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add local track: %w", err)
	}

	t.mu.Lock()
	t.track = track
	t.sender = sender
	t.mu.Unlock()

	return t.negotiate(ctx, pc)
}

// Unpublish detaches the local track and renegotiates.
func (t *WebRTCTransport) Unpublish(ctx context.Context) error {
	t.mu.Lock()
	pc := t.pc
	sender := t.sender
	t.sender = nil
	t.track = nil
	t.mu.Unlock()

	if pc == nil || sender == nil {
		return nil
	}
	if err := pc.RemoveTrack(sender); err != nil {
		return fmt.Errorf("remove local track: %w", err)
	}
	return t.negotiate(ctx, pc)
}

// SetMuted swaps the local track out of (or back into) the sender. The
// sender and negotiation state stay untouched.
func (t *WebRTCTransport) SetMuted(muted bool) error {
	t.mu.Lock()
	sender := t.sender
	track := t.track
	t.mu.Unlock()

	if sender == nil {
		return nil
	}
	if muted {
		return sender.ReplaceTrack(nil)
	}
	return sender.ReplaceTrack(track)
}

// Leave closes the peer connection.
func (t *WebRTCTransport) Leave(_ context.Context) error {
	t.mu.Lock()
	pc := t.pc
	t.pc = nil
	t.sender = nil
	t.track = nil
	t.mu.Unlock()

	if pc == nil {
		return nil
	}
	if err := pc.Close(); err != nil {
		return fmt.Errorf("close peer connection: %w", err)
	}
	return nil
}

// negotiate runs one offer/answer exchange against the signalling edge.
func (t *WebRTCTransport) negotiate(ctx context.Context, pc *webrtc.PeerConnection) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	t.mu.Lock()
	url := fmt.Sprintf("%s/%s", t.config.SignalURL, t.channel)
	token := t.token
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url,
		bytes.NewReader([]byte(pc.LocalDescription().SDP)))
	if err != nil {
		return fmt.Errorf("create signalling request: %w", err)
	}
	req.Header.Set("Content-Type", "application/sdp")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNotImplemented:
		return ErrNotConfigured
	case resp.StatusCode >= 500:
		return &TransientError{Err: fmt.Errorf("signalling edge returned %d", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("signalling edge returned %d", resp.StatusCode)
	}

	answer, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read answer: %w", err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  string(answer),
	}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// drainRemote consumes a remote audio track so the receiver keeps
// flowing; playback is handled by the embedding application.
func (t *WebRTCTransport) drainRemote(remote *webrtc.TrackRemote) {
	for {
		if _, _, err := remote.ReadRTP(); err != nil {
			t.emit(Event{Kind: EventUserUnpublished})
			return
		}
	}
}

func (t *WebRTCTransport) emit(evt Event) {
	select {
	case t.events <- evt:
	default:
		log.Warn().Str("kind", string(evt.Kind)).Msg("audio event channel full, dropping event")
	}
}
