package tokenizer

import "testing"

func TestCount(t *testing.T) {
	if got := Count(""); got != 0 {
		t.Errorf("Count(\"\") = %d, want 0", got)
	}

	got := Count("Hello, how are you today?")
	if got < 3 || got > 10 {
		t.Errorf("Count(short sentence) = %d, want a small positive count", got)
	}

	long := ""
	for i := 0; i < 100; i++ {
		long += "the quick brown fox jumps over the lazy dog "
	}
	short := Count("word")
	if Count(long) <= short {
		t.Errorf("longer text should count more tokens")
	}
}

func TestCountConversation(t *testing.T) {
	msgs := []Message{
		{Content: "What is the capital of France?"},
		{Parts: []Part{
			{Type: "text", Text: "Describe this image"},
			{Type: "image_url"},
		}},
	}
	got := CountConversation(msgs)
	want := Count("What is the capital of France?") + Count("Describe this image")
	if got != want {
		t.Errorf("CountConversation = %d, want %d", got, want)
	}

	if got := CountConversation(nil); got != 0 {
		t.Errorf("CountConversation(nil) = %d, want 0", got)
	}
}
