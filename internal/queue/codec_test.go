package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/entity"
)

func TestTaskCodecRejectsInvalid(t *testing.T) {
	codec, err := TaskCodec()
	require.NoError(t, err)

	for name, body := range map[string]string{
		"not json":         `{`,
		"missing job":      `{"message_id":"m","filepath":"f","retries":0}`,
		"negative retries": `{"message_id":"m","job_id":1,"filepath":"f","retries":-1}`,
		"string job id":    `{"message_id":"m","job_id":"1","filepath":"f","retries":0}`,
	} {
		_, err := codec.Decode([]byte(body))
		assert.Error(t, err, name)
	}

	msg, err := codec.Decode([]byte(`{"message_id":"m","job_id":3,"filepath":"f","retries":2}`))
	require.NoError(t, err)
	assert.Equal(t, int64(3), msg.JobID)
	assert.Equal(t, 2, msg.Retries)
}

func TestResultCodecStatusEnum(t *testing.T) {
	codec, err := ResultCodec()
	require.NoError(t, err)

	_, err = codec.Decode([]byte(`{"message_id":"m","job_id":1,"status":"processing","filepath":"f","retries":0}`))
	assert.Error(t, err)

	name := "Jane Roe"
	out := entity.Outcome{
		JobID:    1,
		Status:   constants.JobStatusCompleted,
		Filepath: "/completed/a.pdf",
		Fields:   &entity.Fields{Name: &name},
	}
	body, err := codec.Encode(NewResult(out, ""))
	require.NoError(t, err)
	got, err := codec.Decode(body)
	require.NoError(t, err)
	assert.Equal(t, out, got.Outcome())
}
