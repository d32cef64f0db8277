package streamclient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/aws/aws-sdk-go/service/kinesis/kinesisiface"
)

// KinesisClient is the production Client adapter to AWS Kinesis, grounded
// directly on the teacher's kinesisReader.getIter/getRecords. Credential
// acquisition and endpoint/region parsing are out of scope (SPEC_FULL.md §1):
// the caller hands in an already-configured *session.Session.
type KinesisClient struct {
	svc kinesisiface.KinesisAPI
}

// NewKinesisClient builds a KinesisClient from an existing AWS session.
func NewKinesisClient(sess *session.Session) *KinesisClient {
	return &KinesisClient{svc: kinesis.New(sess)}
}

// NewKinesisClientFromAPI wraps an existing kinesisiface.KinesisAPI,
// primarily so tests can substitute a fake implementation.
func NewKinesisClientFromAPI(svc kinesisiface.KinesisAPI) *KinesisClient {
	return &KinesisClient{svc: svc}
}

func iteratorTypeString(t IteratorType) (string, error) {
	switch t {
	case AtSequenceNumber:
		return kinesis.ShardIteratorTypeAtSequenceNumber, nil
	case AfterSequenceNumber:
		return kinesis.ShardIteratorTypeAfterSequenceNumber, nil
	case TrimHorizon:
		return kinesis.ShardIteratorTypeTrimHorizon, nil
	case Latest:
		return kinesis.ShardIteratorTypeLatest, nil
	default:
		return "", fmt.Errorf("streamclient: unknown iterator type %d", t)
	}
}

func (k *KinesisClient) GetShardIterator(ctx context.Context, stream, partition string, iterType IteratorType, sequence string) (string, error) {
	typeStr, err := iteratorTypeString(iterType)
	if err != nil {
		return "", NewServiceError(ClassInvalidArgument, err)
	}

	in := &kinesis.GetShardIteratorInput{
		StreamName:        aws.String(stream),
		ShardId:           aws.String(partition),
		ShardIteratorType: aws.String(typeStr),
	}
	if iterType == AtSequenceNumber || iterType == AfterSequenceNumber {
		if sequence == "" {
			return "", NewServiceError(ClassInvalidArgument, errors.New("streamclient: sequence number required for AT/AFTER_SEQUENCE_NUMBER"))
		}
		in.StartingSequenceNumber = aws.String(sequence)
	}

	res, err := k.svc.GetShardIteratorWithContext(ctx, in)
	if err != nil {
		return "", classifyErr(err)
	}
	if res.ShardIterator == nil {
		return "", NewServiceError(ClassUnrecoverable, errors.New("streamclient: empty shard iterator returned"))
	}
	return *res.ShardIterator, nil
}

func (k *KinesisClient) GetRecords(ctx context.Context, iterator string, limit int) (GetRecordsResult, error) {
	res, err := k.svc.GetRecordsWithContext(ctx, &kinesis.GetRecordsInput{
		ShardIterator: aws.String(iterator),
		Limit:         aws.Int64(int64(limit)),
	})
	if err != nil {
		return GetRecordsResult{}, classifyErr(err)
	}

	out := GetRecordsResult{Records: make([]RawRecord, 0, len(res.Records))}
	for _, r := range res.Records {
		if r.SequenceNumber == nil {
			continue
		}
		out.Records = append(out.Records, RawRecord{
			SequenceNumber: *r.SequenceNumber,
			Data:           r.Data,
		})
	}
	if res.NextShardIterator != nil {
		out.NextIterator = *res.NextShardIterator
	}
	return out, nil
}

func (k *KinesisClient) ListPartitions(ctx context.Context, stream string) ([]string, error) {
	var ids []string
	in := &kinesis.ListShardsInput{StreamName: aws.String(stream)}
	for {
		res, err := k.svc.ListShardsWithContext(ctx, in)
		if err != nil {
			return nil, classifyErr(err)
		}
		for _, s := range res.Shards {
			if s.ShardId != nil {
				ids = append(ids, *s.ShardId)
			}
		}
		if res.NextToken == nil {
			return ids, nil
		}
		in = &kinesis.ListShardsInput{NextToken: res.NextToken}
	}
}

// classifyErr maps an AWS SDK error onto the taxonomy of §4.A, the same
// switch the teacher performs inline in its consumer goroutine (see
// ErrCodeExpiredIteratorException handling in runConsumer).
func classifyErr(err error) error {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		if isTimeoutLike(err) {
			return NewServiceError(ClassRecoverableTransport, err)
		}
		return NewServiceError(ClassUnrecoverable, err)
	}

	switch aerr.Code() {
	case kinesis.ErrCodeProvisionedThroughputExceededException, ErrCodeKMSThrottlingException:
		return NewServiceError(ClassThrottled, aerr)
	case kinesis.ErrCodeExpiredIteratorException:
		return NewServiceError(ClassIteratorExpired, aerr)
	case kinesis.ErrCodeResourceNotFoundException:
		return NewServiceError(ClassNotFound, aerr)
	case kinesis.ErrCodeInvalidArgumentException:
		return NewServiceError(ClassInvalidArgument, aerr)
	case "RequestTimeout", "RequestError", "RequestCanceled":
		return NewServiceError(ClassRecoverableTransport, aerr)
	default:
		if req, ok := err.(awserr.RequestFailure); ok && req.StatusCode() >= 500 {
			return NewServiceError(ClassRecoverableTransport, aerr)
		}
		return NewServiceError(ClassUnrecoverable, aerr)
	}
}

// ErrCodeKMSThrottlingException is not exported by the aws-sdk-go kinesis
// package but is documented in the GetRecords API reference as a possible
// throttling code alongside ProvisionedThroughputExceededException.
const ErrCodeKMSThrottlingException = "KMSThrottlingException"

func isTimeoutLike(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		strings.HasSuffix(err.Error(), "context canceled") ||
		strings.HasSuffix(err.Error(), "context deadline exceeded")
}
