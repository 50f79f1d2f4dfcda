package output

import (
	"encoding/json"

	"github.com/fernwatch/camtrap/internal/sensorboard"
	"github.com/fernwatch/camtrap/internal/sequence"
)

// Caption annotates a frame range of the delivered artifact with the sensor
// readings valid over it. Frame numbers index the delivered frames and are
// inclusive.
type Caption struct {
	Start int                    `json:"start"`
	End   int                    `json:"end"`
	Log   *sensorboard.SensorLog `json:"log"`
}

// MarshalCaptions renders the sensor caption JSON for the delivered frames.
// With a single matched log the whole range carries one caption; with no log
// the caption list is empty rather than fabricated.
func MarshalCaptions(frames []*sequence.LabelledFrame, log *sensorboard.SensorLog) ([]byte, error) {
	captions := []Caption{}
	if log != nil && len(frames) > 0 {
		captions = append(captions, Caption{Start: 0, End: len(frames) - 1, Log: log})
	}
	return json.Marshal(captions)
}
