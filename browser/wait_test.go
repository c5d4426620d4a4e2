package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ysmood/gson"
)

// stubPage implements Page with overridable behavior per test.
type stubPage struct {
	navigate func(url string) error
	html     func() (string, error)
	text     func(loc Locator) (string, error)
}

func (s *stubPage) Navigate(url string) error {
	if s.navigate != nil {
		return s.navigate(url)
	}
	return nil
}
func (s *stubPage) Reload() error { return nil }
func (s *stubPage) HTML() (string, error) {
	if s.html != nil {
		return s.html()
	}
	return "<html><body>ok</body></html>", nil
}
func (s *stubPage) Text(loc Locator) (string, error) {
	if s.text != nil {
		return s.text(loc)
	}
	return "", errors.New("element not found")
}
func (s *stubPage) Texts(loc Locator) ([]string, error)                { return nil, nil }
func (s *stubPage) Attribute(loc Locator, name string) (string, error) { return "", nil }
func (s *stubPage) Visible(loc Locator) (bool, error)                  { return false, nil }
func (s *stubPage) Click(loc Locator) error                            { return nil }
func (s *stubPage) ClickNth(loc Locator, n int) error                  { return nil }
func (s *stubPage) ClickJS(loc Locator) error                          { return nil }
func (s *stubPage) Input(loc Locator, text string) error               { return nil }
func (s *stubPage) Eval(js string) (gson.JSON, error)                  { return gson.New(nil), nil }
func (s *stubPage) Screenshot() ([]byte, error)                        { return nil, nil }
func (s *stubPage) Close() error                                       { return nil }

func TestWaitForImmediate(t *testing.T) {
	calls := 0
	err := WaitFor(context.Background(), time.Second, time.Millisecond, func() bool {
		calls++
		return true
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("predicate evaluated %d times, want 1", calls)
	}
}

func TestWaitForEventually(t *testing.T) {
	calls := 0
	err := WaitFor(context.Background(), time.Second, time.Millisecond, func() bool {
		calls++
		return calls >= 3
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Errorf("predicate evaluated %d times, want 3", calls)
	}
}

func TestWaitForTimeout(t *testing.T) {
	err := WaitFor(context.Background(), 10*time.Millisecond, time.Millisecond, func() bool {
		return false
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("got %v, want ErrTimeout", err)
	}
}

func TestWaitForCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WaitFor(ctx, time.Minute, time.Millisecond, func() bool { return false })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestWaitStable(t *testing.T) {
	loc := CSS("#readout")

	t.Run("stabilizes", func(t *testing.T) {
		seq := []string{"3 ms", "5 ms", "8 ms", "8 ms", "9 ms"}
		i := 0
		p := &stubPage{text: func(Locator) (string, error) {
			v := seq[i]
			if i < len(seq)-1 {
				i++
			}
			return v, nil
		}}
		v, ok := WaitStable(context.Background(), p, loc, 10, time.Millisecond)
		if !ok || v != "8 ms" {
			t.Errorf("got (%q, %v), want (\"8 ms\", true)", v, ok)
		}
	})

	t.Run("never stabilizes", func(t *testing.T) {
		i := 0
		p := &stubPage{text: func(Locator) (string, error) {
			i++
			return string(rune('a' + i%20)), nil
		}}
		if v, ok := WaitStable(context.Background(), p, loc, 5, time.Millisecond); ok {
			t.Errorf("expected failure, got %q", v)
		}
	})

	t.Run("empty reads do not count", func(t *testing.T) {
		seq := []string{"", "", "4 ms", "4 ms"}
		i := 0
		p := &stubPage{text: func(Locator) (string, error) {
			v := seq[i]
			if i < len(seq)-1 {
				i++
			}
			return v, nil
		}}
		v, ok := WaitStable(context.Background(), p, loc, 10, time.Millisecond)
		if !ok || v != "4 ms" {
			t.Errorf("got (%q, %v), want (\"4 ms\", true)", v, ok)
		}
	})
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
