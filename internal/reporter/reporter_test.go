package reporter

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sslab-gatech/krace/internal/model"
	"github.com/sslab-gatech/krace/internal/raceengine"
)

func TestLineFormattingAndFlush(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, 0)
	r.Line("[+]", 1, model.Point{PTID: 1, Seq: 0, Clk: 3}, "MEM_WRITE addr=0xA0")
	r.Flush()
	require.Contains(t, buf.String(), "<1-0-3>")
	require.Contains(t, buf.String(), "MEM_WRITE addr=0xA0")
}

func TestWarnIncrementsSoftAnomalies(t *testing.T) {
	r := New(nil, 0)
	r.Warn("seqlock reader released without begin")
	require.Equal(t, 1, r.SoftAnomalies())
}

func TestRecordRacesAggregatesByHashPair(t *testing.T) {
	r := New(nil, 0)
	race := raceengine.DataRace{
		Addr: 0x200,
		Src:  raceengine.MemAccess{InstHash: 20, Point: model.Point{PTID: 1, Seq: 0, Clk: 1}},
		Dst:  raceengine.MemAccess{InstHash: 21, Point: model.Point{PTID: 2, Seq: 0, Clk: 1}},
	}
	r.RecordRaces([]raceengine.DataRace{race, race}, nil)
	require.Equal(t, 2, r.RaceCount())

	out := r.Finalize()
	require.True(t, strings.Contains(out, "20:21 - 2"))
}

func TestRacerTranscriptOmitsPerEventLines(t *testing.T) {
	r := New(nil, 0)
	r.Line("[+]", 0, model.Point{PTID: 1, Seq: 0, Clk: 0}, "ctxt_enter SYSCALL hash=0x64")
	race := raceengine.DataRace{
		Addr: 0x200,
		Src:  raceengine.MemAccess{InstHash: 20, Point: model.Point{PTID: 1, Seq: 0, Clk: 1}},
		Dst:  raceengine.MemAccess{InstHash: 21, Point: model.Point{PTID: 2, Seq: 0, Clk: 1}},
	}
	r.RecordRaces([]raceengine.DataRace{race}, nil)

	out := r.RacerTranscript()
	require.NotContains(t, out, "ctxt_enter")
	require.Contains(t, out, "[*] <1-0-1>")
	require.Contains(t, out, "[*] <2-0-1>")
	require.Contains(t, out, "----")
	require.Contains(t, out, "20:21 - 1")
}

func TestWriteJSONEmitsResolvedLocations(t *testing.T) {
	r := New(nil, 0)
	race := raceengine.DataRace{
		Addr: 0x400,
		Src:  raceengine.MemAccess{InstHash: 30, Point: model.Point{PTID: 1, Seq: 0, Clk: 1}},
		Dst:  raceengine.MemAccess{InstHash: 31, Point: model.Point{PTID: 2, Seq: 0, Clk: 1}},
	}
	r.RecordRaces([]raceengine.DataRace{race}, nil)

	resolve := func(hash uint64) (string, bool) {
		if hash == 30 {
			return "drivers/foo.c:10:1", true
		}
		return "", false
	}

	var buf bytes.Buffer
	require.NoError(t, r.WriteJSON(&buf, resolve))
	require.Contains(t, buf.String(), "drivers/foo.c:10:1")
	require.Contains(t, buf.String(), `"src_hash":30`)
}
