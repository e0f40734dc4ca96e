package commsutil

import "testing"

func TestBuildChangeSubject(t *testing.T) {
	tests := []struct {
		name string
		kind string
		app  string
		want string
	}{
		{"instance", "instance", "billing", "coordinator.changed.instance.billing"},
		{"config", "config", "web", "coordinator.changed.config.web"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildChangeSubject(tt.kind, tt.app)
			if got != tt.want {
				t.Errorf("BuildChangeSubject(%q, %q) = %q, want %q", tt.kind, tt.app, got, tt.want)
			}
		})
	}
}

func TestBuildWorkerSubject(t *testing.T) {
	tests := []struct {
		name string
		app  string
		want string
	}{
		{"simple", "billing", "coordinator.worker.billing"},
		{"dotted app", "doc.ingest", "coordinator.worker.doc_ingest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildWorkerSubject(tt.app)
			if got != tt.want {
				t.Errorf("BuildWorkerSubject(%q) = %q, want %q", tt.app, got, tt.want)
			}
		})
	}
}

func TestBuildReplySubject(t *testing.T) {
	got := BuildReplySubject("cp9h3k0s4l2m1n8q7r6t")
	want := "coordinator.reply.cp9h3k0s4l2m1n8q7r6t"
	if got != want {
		t.Errorf("BuildReplySubject() = %q, want %q", got, want)
	}
}
