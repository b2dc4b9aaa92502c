package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/knadh/nilsignal/store"
)

// DefaultChannelTTL is how long a channel lives after it's created.
const DefaultChannelTTL = 300 * time.Second

const (
	msgTryAgain        = "try again!"
	msgFailOffer       = "fail to create offer"
	msgFailCandidate   = "fail to create candidate"
	msgFailAnswer      = "fail to create answer"
	msgAnswerExists    = "answer already exist"
	msgChannelNotFound = "channel_id not found"
	msgOfferNotFound   = "offer not found"
	msgAnswerNotFound  = "answer not found"
	msgUnknownMethod   = "unknown method %s"
	msgRequiredField   = "%s is required"
)

// Opt represents the handler options.
type Opt struct {
	ChannelTTL time.Duration
}

// Handler validates RPC envelopes and dispatches them to the channel
// store. It holds no per-request state and is safe for concurrent use.
type Handler struct {
	store store.Store
	opt   Opt
	log   *log.Logger

	genID func() string
	now   func() time.Time
}

type channelResp struct {
	ChannelID string `json:"channel_id"`
}

type offerResp struct {
	Offer string `json:"offer"`
}

type answerResp struct {
	Answer string `json:"answer"`
}

type candidatesResp struct {
	Items []json.RawMessage `json:"items"`
}

// New returns a new instance of Handler.
func New(st store.Store, o Opt, l *log.Logger) *Handler {
	if o.ChannelTTL <= 0 {
		o.ChannelTTL = DefaultChannelTTL
	}
	return &Handler{
		store: st,
		opt:   o,
		log:   l,
		genID: uuid.NewString,
		now:   time.Now,
	}
}

// Handle validates a transport request, dispatches it and shapes the result
// into a response envelope.
func (h *Handler) Handle(r Request) Response {
	rpc, method, err := parseEnvelope(r)
	if err != nil {
		return errorResponse(err)
	}

	out, err := h.Dispatch(method, rpc)
	if err != nil {
		return errorResponse(err)
	}

	resp, err := okResponse(out)
	if err != nil {
		h.log.Printf("error marshalling %s response: %v", method, err)
		return errorResponse(err)
	}
	return resp
}

// Dispatch invokes an RPC method with the given envelope. The returned
// value is nil for methods that have no response body. Errors are
// always of type *Error.
func (h *Handler) Dispatch(method string, rpc map[string]interface{}) (interface{}, error) {
	m, ok := ParseMethod(method)
	if !ok {
		return nil, newErr(KindValidation, fmt.Sprintf(msgUnknownMethod, method))
	}

	for _, f := range m.Required() {
		if _, ok := rpc[f]; !ok {
			return nil, newErr(KindValidation, fmt.Sprintf(msgRequiredField, f))
		}
	}

	var (
		id  = toString(rpc[FieldChannelID])
		out interface{}
		err *Error
	)
	switch m {
	case MethodCreateDataChannel:
		out, err = h.createDataChannel()
	case MethodCreateOffer:
		err = h.createOffer(id, toString(rpc[FieldOffer]))
	case MethodGetOffer:
		out, err = h.getOffer(id)
	case MethodCreateCandidate:
		err = h.createCandidate(id, rpc[FieldCandidate])
	case MethodGetCandidates:
		out, err = h.getCandidates(id)
	case MethodCreateAnswer:
		err = h.createAnswer(id, toString(rpc[FieldAnswer]))
	case MethodGetAnswer:
		out, err = h.getAnswer(id)
	case MethodEcho:
		out = rpc
	default:
		return nil, newErr(KindValidation, fmt.Sprintf(msgUnknownMethod, method))
	}

	// err is a *Error and must not be returned as a typed nil.
	if err != nil {
		return nil, err
	}
	return out, nil
}

// createDataChannel creates a new channel with a random ID.
func (h *Handler) createDataChannel() (interface{}, *Error) {
	id := h.genID()
	if err := h.store.CreateChannel(id, h.now().Add(h.opt.ChannelTTL)); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			h.log.Printf("channel ID collision: %s", id)
			return nil, newErr(KindConflict, msgTryAgain)
		}
		h.log.Printf("error creating channel: %v", err)
		return nil, newErr(KindStore, msgTryAgain)
	}
	return channelResp{ChannelID: id}, nil
}

// createOffer sets a channel's offer. An existing offer is overwritten.
func (h *Handler) createOffer(id, offer string) *Error {
	if err := h.store.SetOffer(id, offer); err != nil {
		h.log.Printf("error creating offer: %v", err)
		return newErr(KindStore, msgFailOffer)
	}
	return nil
}

func (h *Handler) getOffer(id string) (interface{}, *Error) {
	ch, e := h.getChannel(id)
	if e != nil {
		return nil, e
	}
	if ch.Offer == nil {
		return nil, newErr(KindNotFound, msgOfferNotFound)
	}
	return offerResp{Offer: *ch.Offer}, nil
}

// createCandidate appends a candidate, which is stored as its raw JSON value.
func (h *Handler) createCandidate(id string, candidate interface{}) *Error {
	b, err := json.Marshal(candidate)
	if err != nil {
		h.log.Printf("error encoding candidate: %v", err)
		return newErr(KindStore, msgFailCandidate)
	}
	if err := h.store.AppendCandidate(id, b); err != nil {
		h.log.Printf("error creating candidate: %v", err)
		return newErr(KindStore, msgFailCandidate)
	}
	return nil
}

func (h *Handler) getCandidates(id string) (interface{}, *Error) {
	ch, e := h.getChannel(id)
	if e != nil {
		return nil, e
	}
	items := ch.Candidates
	if items == nil {
		items = []json.RawMessage{}
	}
	return candidatesResp{Items: items}, nil
}

// createAnswer sets a channel's answer only if it has none.
func (h *Handler) createAnswer(id, answer string) *Error {
	if err := h.store.SetAnswerIfAbsent(id, answer); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return newErr(KindConflict, msgAnswerExists)
		}
		h.log.Printf("error creating answer: %v", err)
		return newErr(KindStore, msgFailAnswer)
	}
	return nil
}

func (h *Handler) getAnswer(id string) (interface{}, *Error) {
	ch, e := h.getChannel(id)
	if e != nil {
		return nil, e
	}
	if ch.Answer == nil {
		return nil, newErr(KindNotFound, msgAnswerNotFound)
	}
	return answerResp{Answer: *ch.Answer}, nil
}

func (h *Handler) getChannel(id string) (store.Channel, *Error) {
	ch, err := h.store.GetChannel(id)
	if err != nil {
		if errors.Is(err, store.ErrChannelNotFound) {
			return ch, newErr(KindNotFound, msgChannelNotFound)
		}
		h.log.Printf("error getting channel: %v", err)
		return ch, newErr(KindStore, msgTryAgain)
	}
	return ch, nil
}

// toString returns a string field as-is and any other JSON value as
// its JSON text.
func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
