// Copyright 2021 The Sigstore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package trustroot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidityWindow_Contains(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	bounded := ValidityWindow{Start: start, End: &end}
	assert.False(t, bounded.Contains(start.Add(-time.Second)))
	assert.True(t, bounded.Contains(start))
	assert.True(t, bounded.Contains(end))
	assert.False(t, bounded.Contains(end.Add(time.Second)))
	assert.False(t, bounded.Current())

	unbounded := ValidityWindow{Start: start}
	assert.True(t, unbounded.Contains(end.Add(100*24*time.Hour)))
	assert.True(t, unbounded.Current())
}

func TestLogID_Equal(t *testing.T) {
	a := LogID{0x01, 0x02, 0x03}
	b := LogID{0x01, 0x02, 0x03}
	c := LogID{0x01, 0x02, 0x04}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(LogID{0x01, 0x02}))
}

func TestFindTLog_FirstMatchByIDAndTime(t *testing.T) {
	oldEnd := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := &TrustedRoot{
		TLogs: []TransparencyLog{
			{LogID: LogID{0xAA}, Validity: ValidityWindow{Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), End: &oldEnd}},
			{LogID: LogID{0xAA}, Validity: ValidityWindow{Start: time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)}},
		},
	}

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	found, ok := tr.FindTLog(LogID{0xAA}, at)
	require.True(t, ok)
	assert.True(t, found.Validity.Current())

	_, ok = tr.FindTLog(LogID{0xBB}, at)
	assert.False(t, ok)
}

func TestCurrentTLog_FailsLoudlyOnCountMismatch(t *testing.T) {
	tr := &TrustedRoot{}
	_, err := tr.CurrentTLog()
	assert.Error(t, err)

	tr.TLogs = []TransparencyLog{
		{LogID: LogID{0x01}, Validity: ValidityWindow{Start: time.Now()}},
		{LogID: LogID{0x02}, Validity: ValidityWindow{Start: time.Now()}},
	}
	_, err = tr.CurrentTLog()
	assert.Error(t, err)

	tr.TLogs = tr.TLogs[:1]
	got, err := tr.CurrentTLog()
	require.NoError(t, err)
	assert.True(t, got.LogID.Equal(LogID{0x01}))
}

func TestValidateSingleCurrent_RejectsMultipleUnboundedCAs(t *testing.T) {
	tr := &TrustedRoot{
		CAs: []CertificateAuthority{
			{URI: "https://a", Validity: ValidityWindow{Start: time.Now()}},
			{URI: "https://b", Validity: ValidityWindow{Start: time.Now()}},
		},
	}
	err := tr.validateSingleCurrent()
	assert.Error(t, err)
}

func TestCAsValidAt(t *testing.T) {
	end := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	tr := &TrustedRoot{
		CAs: []CertificateAuthority{
			{URI: "https://old", Validity: ValidityWindow{Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), End: &end}},
			{URI: "https://current", Validity: ValidityWindow{Start: time.Date(2023, 6, 2, 0, 0, 0, 0, time.UTC)}},
		},
	}

	at := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	valid := tr.CAsValidAt(at)
	require.Len(t, valid, 1)
	assert.Equal(t, "https://old", valid[0].URI)
}
