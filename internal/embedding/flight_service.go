package embedding

import (
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v17/arrow/flight"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FlightService serves any Provider over the DoExchange protocol spoken by
// FlightProvider. It lets a bert-as-service HTTP backend (or the mock) be
// fronted by a Flight endpoint.
type FlightService struct {
	flight.BaseFlightServer

	provider Provider
	mem      memory.Allocator
}

func NewFlightService(p Provider) *FlightService {
	return &FlightService{provider: p, mem: memory.DefaultAllocator}
}

func (s *FlightService) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.mem))
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "read request: %v", err)
	}
	defer reader.Release()

	if desc := reader.LatestFlightDescriptor(); desc != nil && string(desc.Cmd) != EncodeCommand {
		return status.Errorf(codes.Unimplemented, "unknown command %q", desc.Cmd)
	}

	var writer *flight.Writer
	for reader.Next() {
		texts, err := RecordToTexts(reader.Record())
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "%v", err)
		}
		if len(texts) == 0 {
			continue
		}
		vecs, err := s.provider.Encode(stream.Context(), texts)
		if err != nil {
			return status.Errorf(codes.Unavailable, "encode: %v", err)
		}
		out, err := VectorsToRecord(s.mem, vecs, s.provider.Dim(), nil)
		if err != nil {
			return status.Errorf(codes.Internal, "%v", err)
		}
		if writer == nil {
			writer = flight.NewRecordWriter(stream, ipc.WithSchema(out.Schema()), ipc.WithAllocator(s.mem))
		}
		err = writer.Write(out)
		out.Release()
		if err != nil {
			return fmt.Errorf("write vectors: %w", err)
		}
	}
	if err := reader.Err(); err != nil && !errors.Is(err, io.EOF) {
		return status.Errorf(codes.InvalidArgument, "read request: %v", err)
	}
	if writer != nil {
		return writer.Close()
	}
	return nil
}

// ServeFlight starts a Flight server for p on addr ("host:port", port 0 picks
// a free one). The caller calls Shutdown on the returned server.
func ServeFlight(addr string, p Provider) (flight.Server, error) {
	srv := flight.NewServerWithMiddleware(nil)
	if err := srv.Init(addr); err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	srv.RegisterFlightService(NewFlightService(p))
	go func() {
		_ = srv.Serve()
	}()
	return srv, nil
}
