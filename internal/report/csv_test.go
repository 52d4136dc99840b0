package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/studiowebux/poolbench/internal/types"
)

func TestCSVWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewCSVWriter(&buf)

	require.NoError(t, w.Write(0, []types.StatsRecord{
		{PoolID: 0, ConnectionID: 1, Resource: "/cats/1.jpg", Success: true, Size: 1024, Status: 200, TimeConnect: 5120, TimeData: 830},
	}))
	require.NoError(t, w.Write(1, []types.StatsRecord{
		types.NewFailedRecord("GET", "/a,b", 5),
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Equal(t, []string{
		"iteration,pool,connection,resource,success,retries,size,status,time_connect,time_data",
		"0,0,1,/cats/1.jpg,1,0,1024,200,5120,830",
		`1,0,0,"/a,b",0,5,0,0,-1,0`,
	}, lines)
}

func TestCSVWriter_HeaderOnce(t *testing.T) {
	var buf bytes.Buffer
	w := NewCSVWriter(&buf)

	require.NoError(t, w.WriteHeader())
	require.NoError(t, w.WriteHeader())
	require.NoError(t, w.Write(0, nil))
	require.Equal(t, 1, strings.Count(buf.String(), "iteration"))
}
