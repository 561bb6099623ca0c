package voice

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callme/transport"
)

// PeerResolver maps an opaque peer address to a network address the
// transport can deliver to. It is supplied by the node layer, which knows
// how peers were discovered.
type PeerResolver func(peer PeerAddress) (net.Addr, error)

// Adapter is the transport-backed signaling adapter. It converts manager
// intents (dial, accept, end) into signaling packets on the callme
// transport, and converts inbound packets into manager calls.
//
// Call identifiers are assigned by each side's manager, so the adapter
// keeps a mapping between the identifier a remote caller put on the wire
// and the local session created for it. Outgoing calls travel under the
// local identifier and peers echo it back verbatim.
type Adapter struct {
	transport transport.Transport
	resolve   PeerResolver
	identity  IdentityProvider

	manager *Manager

	// Incoming-call bookkeeping: local session ID to the caller's wire ID
	// and origin address, plus the reverse index for inbound packets.
	inbound map[CallID]inboundCall
	wireIDs map[CallID]CallID // remote wire ID -> local session ID

	mu sync.Mutex
}

type inboundCall struct {
	wireID CallID
	addr   net.Addr
}

// NewAdapter creates a signaling adapter over the given transport. Bind
// must be called with the manager before any packet can be processed.
func NewAdapter(tr transport.Transport, resolve PeerResolver, identity IdentityProvider) (*Adapter, error) {
	if tr == nil {
		return nil, errors.New("transport cannot be nil")
	}
	if resolve == nil {
		return nil, errors.New("peer resolver cannot be nil")
	}
	if identity == nil {
		return nil, errors.New("identity provider cannot be nil")
	}
	return &Adapter{
		transport: tr,
		resolve:   resolve,
		identity:  identity,
		inbound:   make(map[CallID]inboundCall),
		wireIDs:   make(map[CallID]CallID),
	}, nil
}

// Bind attaches the manager and registers the signaling packet handlers on
// the transport. It must be called exactly once, before traffic arrives.
func (a *Adapter) Bind(manager *Manager) error {
	if manager == nil {
		return errors.New("manager cannot be nil")
	}
	a.mu.Lock()
	if a.manager != nil {
		a.mu.Unlock()
		return errors.New("adapter is already bound")
	}
	a.manager = manager
	a.mu.Unlock()

	a.transport.RegisterHandler(transport.PacketCallRequest, a.handleCallRequest)
	a.transport.RegisterHandler(transport.PacketCallResponse, a.handleCallResponse)
	a.transport.RegisterHandler(transport.PacketCallControl, a.handleCallControl)

	logrus.WithFields(logrus.Fields{
		"function":   "Bind",
		"local_addr": a.transport.LocalAddr().String(),
	}).Info("Signaling adapter bound to transport")

	return nil
}

// CallRequest sends a dial intent for an outgoing call.
func (a *Adapter) CallRequest(peer PeerAddress, callID CallID) error {
	addr, err := a.resolve(peer)
	if err != nil {
		return fmt.Errorf("resolve peer %q: %w", peer, err)
	}

	data, err := SerializeCallRequest(&CallRequestPacket{
		CallID:    callID,
		Caller:    PeerAddress(a.identity.NodeID()),
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("serialize call request: %w", err)
	}

	return a.transport.Send(&transport.Packet{
		PacketType: transport.PacketCallRequest,
		Data:       data,
	}, addr)
}

// CallResponse answers an incoming call, translating the local session ID
// back to the identifier the caller put on the wire.
func (a *Adapter) CallResponse(peer PeerAddress, callID CallID, accepted bool) error {
	wireID, addr, err := a.outboundTarget(peer, callID)
	if err != nil {
		return err
	}

	data, err := SerializeCallResponse(&CallResponsePacket{
		CallID:    wireID,
		Accepted:  accepted,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("serialize call response: %w", err)
	}

	return a.transport.Send(&transport.Packet{
		PacketType: transport.PacketCallResponse,
		Data:       data,
	}, addr)
}

// Hangup tells the peer the call is over.
func (a *Adapter) Hangup(peer PeerAddress, callID CallID) error {
	wireID, addr, err := a.outboundTarget(peer, callID)
	if err != nil {
		return err
	}

	data, err := SerializeCallControl(&CallControlPacket{
		CallID:      wireID,
		ControlType: ControlHangup,
		Timestamp:   time.Now(),
	})
	if err != nil {
		return fmt.Errorf("serialize call control: %w", err)
	}

	return a.transport.Send(&transport.Packet{
		PacketType: transport.PacketCallControl,
		Data:       data,
	}, addr)
}

// HandleEvent releases incoming-call bookkeeping once a session reaches a
// terminal state. Wire it into the manager's event callback alongside any
// observability consumer.
func (a *Adapter) HandleEvent(event CallEvent) {
	if event.Type != EventCallEnded && event.Type != EventCallFailed {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if in, exists := a.inbound[event.CallID]; exists {
		delete(a.wireIDs, in.wireID)
		delete(a.inbound, event.CallID)
	}
}

// outboundTarget resolves the wire identifier and destination for a packet
// about an existing call. Incoming calls use the recorded origin; outgoing
// calls use the local identifier and the peer resolver.
func (a *Adapter) outboundTarget(peer PeerAddress, callID CallID) (CallID, net.Addr, error) {
	a.mu.Lock()
	in, exists := a.inbound[callID]
	a.mu.Unlock()

	if exists {
		return in.wireID, in.addr, nil
	}

	addr, err := a.resolve(peer)
	if err != nil {
		return "", nil, fmt.Errorf("resolve peer %q: %w", peer, err)
	}
	return callID, addr, nil
}

// handleCallRequest processes an inbound dial request, creating a ringing
// session through the manager.
func (a *Adapter) handleCallRequest(packet *transport.Packet, addr net.Addr) error {
	req, err := DeserializeCallRequest(packet.Data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleCallRequest",
			"error":    err.Error(),
		}).Warn("Dropping malformed call request")
		return err
	}

	localID, err := a.manager.HandleIncomingCall(req.Caller)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleCallRequest",
			"peer":     req.Caller,
			"error":    err.Error(),
		}).Warn("Rejected incoming call request")
		return err
	}

	a.mu.Lock()
	a.inbound[localID] = inboundCall{wireID: req.CallID, addr: addr}
	a.wireIDs[req.CallID] = localID
	a.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "handleCallRequest",
		"call_id":  localID,
		"wire_id":  req.CallID,
		"peer":     req.Caller,
	}).Debug("Incoming call request mapped to local session")

	return nil
}

// handleCallResponse processes the peer's answer to our outgoing call.
// The wire identifier is the local session identifier for outgoing calls.
func (a *Adapter) handleCallResponse(packet *transport.Packet, addr net.Addr) error {
	resp, err := DeserializeCallResponse(packet.Data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleCallResponse",
			"error":    err.Error(),
		}).Warn("Dropping malformed call response")
		return err
	}

	if resp.Accepted {
		return a.manager.HandlePeerAccepted(resp.CallID)
	}
	return a.manager.HandlePeerHangup(resp.CallID)
}

// handleCallControl processes hangup controls for either call direction.
func (a *Adapter) handleCallControl(packet *transport.Packet, addr net.Addr) error {
	ctrl, err := DeserializeCallControl(packet.Data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleCallControl",
			"error":    err.Error(),
		}).Warn("Dropping malformed call control")
		return err
	}

	localID := ctrl.CallID
	a.mu.Lock()
	if mapped, exists := a.wireIDs[ctrl.CallID]; exists {
		localID = mapped
	}
	a.mu.Unlock()

	switch ctrl.ControlType {
	case ControlHangup:
		return a.manager.HandlePeerHangup(localID)
	default:
		return fmt.Errorf("unknown call control type %d", ctrl.ControlType)
	}
}
