package domain

import (
	"testing"
	"time"
)

func TestConsumerControlPauseResume(t *testing.T) {
	t.Parallel()

	normal := Pacing{ThrottleMs: 4000, MaxTasksPerTick: 3}
	slow := Pacing{ThrottleMs: 15000, MaxTasksPerTick: 1}

	c := ConsumerControl{ConsumerID: "agent", PatchID: "p1", Pacing: normal}
	paused := c.Pause(slow)
	if !paused.PauseDiscovery || paused.Pacing != slow {
		t.Fatalf("pause did not apply paused pacing: %+v", paused)
	}
	if paused.Prior == nil || *paused.Prior != normal {
		t.Fatalf("pause did not capture prior pacing: %+v", paused.Prior)
	}

	twice := paused.Pause(Pacing{ThrottleMs: 1, MaxTasksPerTick: 1})
	if *twice.Prior != normal || twice.Pacing != slow {
		t.Fatalf("second pause overwrote state: %+v", twice)
	}

	resumed := twice.Resume()
	if resumed.PauseDiscovery || resumed.Prior != nil || resumed.Pacing != normal {
		t.Fatalf("resume did not restore: %+v", resumed)
	}
	if again := resumed.Resume(); again != resumed {
		t.Fatalf("resume of a live control changed it: %+v", again)
	}
}

func TestRunStatus(t *testing.T) {
	t.Parallel()

	if RunLive.Terminal() || RunPaused.Terminal() {
		t.Fatalf("live and paused are not terminal")
	}
	if !RunStopped.Terminal() || !RunSuspended.Terminal() {
		t.Fatalf("stopped and suspended are terminal")
	}
	if RunStatus("done").Valid() {
		t.Fatalf("unknown status reported valid")
	}

	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := Run{StartedAt: started}
	if got := r.Age(started.Add(3 * time.Hour)); got != 3*time.Hour {
		t.Fatalf("age = %s", got)
	}
}

func TestYouTubeID(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ": "dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ?t=10":           "dQw4w9WgXcQ",
		"https://www.youtube.com/embed/dQw4w9WgXcQ":   "dQw4w9WgXcQ",
		"https://www.youtube.com/shorts/dQw4w9WgXcQ":  "dQw4w9WgXcQ",
		"https://vimeo.com/12345":                     "",
	}
	for in, want := range cases {
		if got := YouTubeID(in); got != want {
			t.Fatalf("YouTubeID(%q) = %q, want %q", in, got, want)
		}
	}

	m := Media{VideoURL: "https://youtu.be/dQw4w9WgXcQ"}
	if got := m.VideoThumbnail(); got != "https://img.youtube.com/vi/dQw4w9WgXcQ/hqdefault.jpg" {
		t.Fatalf("thumbnail = %q", got)
	}
	m.VideoThumbnailURL = "https://cdn.example/thumb.jpg"
	if got := m.VideoThumbnail(); got != "https://cdn.example/thumb.jpg" {
		t.Fatalf("explicit thumbnail ignored: %q", got)
	}
}
