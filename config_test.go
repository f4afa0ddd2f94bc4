package scheduler

/*
MIT License

Copyright (c) 2018 Ivan Syzonenko

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

import "testing"

func TestDefaultConfigIsValid(t *testing.T) {
	if err := VerifyConfig(DefaultConfig()); err != nil {
		t.Error("the shipped defaults must verify:", err)
	}
}

func TestVerifyConfigRejects(t *testing.T) {
	breakages := map[string]func(*Config){
		"empty addr":      func(c *Config) { c.Addr = "" },
		"zero attempts":   func(c *Config) { c.BindAttempts = 0 },
		"negative pause":  func(c *Config) { c.BindBackoff = -1 },
		"no backlog":      func(c *Config) { c.AcceptBacklog = 0 },
		"tiny read chunk": func(c *Config) { c.ReadChunkSize = 1 },
		"tiny max frame":  func(c *Config) { c.MaxFrameSize = 4 },
		"no grace":        func(c *Config) { c.GracePeriod = 0 },
	}
	for name, wreck := range breakages {
		cfg := DefaultConfig()
		wreck(cfg)
		if err := VerifyConfig(cfg); err == nil {
			t.Errorf("%s: expected a verification error", name)
		}
	}
	if err := VerifyConfig(nil); err == nil {
		t.Error("nil config: expected a verification error")
	}
}
