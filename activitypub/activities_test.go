package activitypub

import (
	"testing"
)

func TestParseActivity(t *testing.T) {
	body := []byte(`{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": "https://remote.social/activities/1",
		"type": "Follow",
		"actor": "https://remote.social/users/bob",
		"object": "https://example.com/federation/user/alice"
	}`)

	activity, err := ParseActivity(body)
	if err != nil {
		t.Fatalf("ParseActivity failed: %v", err)
	}
	if activity.Type != ActivityFollow {
		t.Errorf("type = %s, want Follow", activity.Type)
	}
	if activity.ObjectURI() != "https://example.com/federation/user/alice" {
		t.Errorf("object URI = %s", activity.ObjectURI())
	}
}

func TestParseActivityInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `not json`},
		{name: "missing type", body: `{"actor":"https://remote.social/users/bob"}`},
		{name: "missing actor", body: `{"type":"Follow","object":"x"}`},
		{name: "missing object", body: `{"type":"Follow","actor":"https://remote.social/users/bob"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseActivity([]byte(tt.body)); err != ErrInvalidActivity {
				t.Errorf("ParseActivity = %v, want ErrInvalidActivity", err)
			}
		})
	}
}

func TestParseActivityUnsupportedType(t *testing.T) {
	body := []byte(`{"type":"Like","actor":"https://remote.social/users/bob","object":"x"}`)
	_, err := ParseActivity(body)

	unsupported, ok := err.(*UnsupportedActivityError)
	if !ok {
		t.Fatalf("ParseActivity = %v, want UnsupportedActivityError", err)
	}
	if unsupported.ActivityType != "Like" {
		t.Errorf("activity type = %s, want Like", unsupported.ActivityType)
	}
}

func TestObjectURIEmbeddedObject(t *testing.T) {
	body := []byte(`{
		"type": "Delete",
		"actor": "https://remote.social/users/bob",
		"object": {"id": "https://remote.social/workouts/1", "type": "Tombstone"}
	}`)

	activity, err := ParseActivity(body)
	if err != nil {
		t.Fatalf("ParseActivity failed: %v", err)
	}
	if activity.ObjectURI() != "https://remote.social/workouts/1" {
		t.Errorf("object URI = %s", activity.ObjectURI())
	}
}

func TestNestedObject(t *testing.T) {
	body := []byte(`{
		"type": "Undo",
		"actor": "https://remote.social/users/bob",
		"object": {
			"id": "https://remote.social/activities/1",
			"type": "Follow",
			"actor": "https://remote.social/users/bob",
			"object": "https://example.com/federation/user/alice"
		}
	}`)

	activity, err := ParseActivity(body)
	if err != nil {
		t.Fatalf("ParseActivity failed: %v", err)
	}
	nested, err := activity.NestedObject()
	if err != nil {
		t.Fatalf("NestedObject failed: %v", err)
	}
	if nested.Type != ActivityFollow {
		t.Errorf("nested type = %s, want Follow", nested.Type)
	}
	if nested.Object != "https://example.com/federation/user/alice" {
		t.Errorf("nested object = %s", nested.Object)
	}
}

func TestConvertDurationStringToSeconds(t *testing.T) {
	tests := []struct {
		duration string
		want     int
		wantErr  bool
	}{
		{duration: "0:00:00", want: 0},
		{duration: "0:50:00", want: 3000},
		{duration: "1:00:00", want: 3600},
		{duration: "10:30:45", want: 37845},
		{duration: "100:00:01", want: 360001},
		{duration: "0:60:00", wantErr: true},
		{duration: "0:00:60", wantErr: true},
		{duration: "50:00", wantErr: true},
		{duration: "", wantErr: true},
		{duration: "abc", wantErr: true},
		{duration: "-1:00:00", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.duration, func(t *testing.T) {
			got, err := ConvertDurationStringToSeconds(tt.duration)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.duration)
				}
				return
			}
			if err != nil {
				t.Fatalf("ConvertDurationStringToSeconds(%q) failed: %v", tt.duration, err)
			}
			if got != tt.want {
				t.Errorf("ConvertDurationStringToSeconds(%q) = %d, want %d", tt.duration, got, tt.want)
			}
		})
	}
}

func TestConvertSecondsToDurationString(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{seconds: 0, want: "0:00:00"},
		{seconds: 3000, want: "0:50:00"},
		{seconds: 3600, want: "1:00:00"},
		{seconds: 37845, want: "10:30:45"},
		{seconds: -5, want: "0:00:00"},
	}

	for _, tt := range tests {
		if got := ConvertSecondsToDurationString(tt.seconds); got != tt.want {
			t.Errorf("ConvertSecondsToDurationString(%d) = %s, want %s", tt.seconds, got, tt.want)
		}
	}
}
