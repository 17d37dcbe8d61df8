package flowqc

import "strings"

// EventSource provides read access to cytometry event data, one value
// per event per channel. Implementations are expected to return the
// same data for repeated calls within a run; the pipeline does not
// mutate returned slices.
//
// Reading FCS files, compensation, and transformation happen upstream
// of this interface.
type EventSource interface {
	// NEvents reports the number of events in acquisition order.
	NEvents() int

	// ChannelNames lists all channel names available from the source.
	ChannelNames() []string

	// Channel returns the values for one channel, length NEvents.
	Channel(name string) ([]float64, error)

	// ChannelRange reports the instrument range for a channel when
	// known. ok is false when the source has no range metadata, in
	// which case the pipeline falls back to the observed data range.
	ChannelRange(name string) (min, max float64, ok bool)
}

// FluorescenceChannels filters a channel list down to fluorescence
// parameters, dropping scatter and time channels. It is the default
// channel selection when a QC config names none.
func FluorescenceChannels(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		upper := strings.ToUpper(name)
		if strings.HasPrefix(upper, "FSC") || strings.HasPrefix(upper, "SSC") {
			continue
		}
		if upper == "TIME" {
			continue
		}
		out = append(out, name)
	}
	return out
}
