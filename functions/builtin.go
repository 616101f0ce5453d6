package functions

import (
	"context"
	"time"

	"google.golang.org/genai"
)

const defaultCompanyDocs = `
Livewire is a voice assistant service. It connects callers to a live
generative model over a websocket, streams audio both ways, and answers
questions about the service on request.
`

// CompanyDocs answers general questions about the company. It blocks the
// conversation until answered.
func CompanyDocs(docs string) Function {
	if docs == "" {
		docs = defaultCompanyDocs
	}
	return Function{
		Declaration: &genai.FunctionDeclaration{
			Name:        "GetCompanyInformationsDocs",
			Description: "Get All the information of the company",
			Behavior:    genai.BehaviorBlocking,
		},
		Handler: func(context.Context, map[string]any) (map[string]any, error) {
			return map[string]any{"docs": docs}, nil
		},
	}
}

// CurrentTime reports the time in an optional IANA zone. It runs without
// pausing the model and its answer is delivered once the model is idle.
func CurrentTime(now func() time.Time) Function {
	if now == nil {
		now = time.Now
	}
	return Function{
		Declaration: &genai.FunctionDeclaration{
			Name:        "GetCurrentTime",
			Description: "Get the current date and time, optionally in a given IANA time zone",
			Behavior:    genai.BehaviorNonBlocking,
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"timezone": {Type: genai.TypeString, Description: "IANA zone name such as Africa/Dakar"},
				},
			},
		},
		Scheduling: genai.FunctionResponseSchedulingWhenIdle,
		Handler: func(_ context.Context, args map[string]any) (map[string]any, error) {
			t := now()
			if tz, _ := args["timezone"].(string); tz != "" {
				loc, err := time.LoadLocation(tz)
				if err != nil {
					return nil, err
				}
				t = t.In(loc)
			}
			return map[string]any{"time": t.Format(time.RFC3339)}, nil
		},
	}
}

// Default returns a registry with the built-in functions.
func Default() *Registry {
	r := NewRegistry()
	r.MustRegister(CompanyDocs(""), CurrentTime(nil))
	return r
}
