package signaling

// Method is one of the RPC methods a client can invoke.
type Method int

// RPC methods.
const (
	MethodCreateDataChannel Method = iota
	MethodCreateOffer
	MethodGetOffer
	MethodCreateCandidate
	MethodGetCandidates
	MethodCreateAnswer
	MethodGetAnswer

	// MethodEcho returns the request envelope as-is. Diagnostic only.
	MethodEcho

	numMethods
)

// Envelope and method field names.
const (
	FieldMethod    = "method"
	FieldChannelID = "channel_id"
	FieldOffer     = "offer"
	FieldCandidate = "candidate"
	FieldAnswer    = "answer"
)

var methodNames = [numMethods]string{
	MethodCreateDataChannel: "create_data_channel",
	MethodCreateOffer:       "create_offer",
	MethodGetOffer:          "get_offer",
	MethodCreateCandidate:   "create_candidate",
	MethodGetCandidates:     "get_candidates",
	MethodCreateAnswer:      "create_answer",
	MethodGetAnswer:         "get_answer",
	MethodEcho:              "echo",
}

// requiredFields lists the envelope fields each method needs, in the
// order they're checked.
var requiredFields = [numMethods][]string{
	MethodCreateOffer:     {FieldChannelID, FieldOffer},
	MethodGetOffer:        {FieldChannelID},
	MethodCreateCandidate: {FieldChannelID, FieldCandidate},
	MethodGetCandidates:   {FieldChannelID},
	MethodCreateAnswer:    {FieldChannelID, FieldAnswer},
	MethodGetAnswer:       {FieldChannelID},
}

var methodsByName = func() map[string]Method {
	out := make(map[string]Method, numMethods)
	for m, name := range methodNames {
		out[name] = Method(m)
	}
	return out
}()

// ParseMethod returns the Method for an RPC method name.
func ParseMethod(name string) (Method, bool) {
	m, ok := methodsByName[name]
	return m, ok
}

// String returns the method's RPC name.
func (m Method) String() string {
	if m < 0 || m >= numMethods {
		return "unknown"
	}
	return methodNames[m]
}

// Required returns the envelope fields the method requires.
func (m Method) Required() []string {
	if m < 0 || m >= numMethods {
		return nil
	}
	return requiredFields[m]
}
