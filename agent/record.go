package agent

import (
	"encoding/json"
	"log"
)

// A Record is one structured timing measurement. The core emits one
// per server update, worker update, batch computation and segment;
// the format is opaque to the core.
type Record struct {
	Type     string                 `json:"type"`
	Rank     int                    `json:"rank"`
	Duration float64                `json:"duration"`
	Start    float64                `json:"start_time"`
	End      float64                `json:"end_time"`
	Extra    map[string]interface{} `json:"extra,omitempty"`
}

// A Recorder consumes timing records.
type Recorder interface {
	Record(r Record)
}

// A JSONRecorder writes one JSON line per record through the standard
// logger.
type JSONRecorder struct {
	// Logger to write to. Nil means the default logger.
	Logger *log.Logger
}

func (j *JSONRecorder) Record(r Record) {
	data, err := json.Marshal(r)
	if err != nil {
		data = []byte(`{"type":"record_marshal_error"}`)
	}
	if j.Logger != nil {
		j.Logger.Println(string(data))
		return
	}
	log.Println(string(data))
}

// A NopRecorder discards records.
type NopRecorder struct{}

func (NopRecorder) Record(Record) {}
