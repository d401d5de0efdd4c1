// stat backend server for lcfs
package stat

import (
	"context"
	"net"

	"github.com/rarydzu/lcfs/lcfs"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const FullMethod = "/lcfs.Stat/Stat"

// Source provides the statistics served.
type Source interface {
	Stats() lcfs.Stats
}

// StatServer is the server API of the lcfs.Stat service.
type StatServer interface {
	Stat(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

type Server struct {
	source Source
	log    *zap.SugaredLogger
	grpc   *grpc.Server
}

// New is a constructor for Server
func New(source Source, log *zap.SugaredLogger) *Server {
	s := &Server{
		source: source,
		log:    log,
		grpc:   grpc.NewServer(),
	}
	Register(s.grpc, s)
	return s
}

// Stat is a RPC for stat
func (s *Server) Stat(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(statsMap(s.source.Stats()))
}

func statsMap(st lcfs.Stats) map[string]interface{} {
	devices := make([]interface{}, 0, len(st.Devices))
	for _, d := range st.Devices {
		devices = append(devices, map[string]interface{}{
			"id":                int(d.ID),
			"sectors":           int(d.SectorCount),
			"blocks_per_sector": int(d.BlocksPerSector),
			"cursor_sector":     int(d.CursorSector),
			"cursor_block":      int(d.CursorBlock),
			"full":              d.Full,
			"free":              d.FreeLen(),
		})
	}
	files := make([]interface{}, 0, len(st.OpenFiles))
	for _, f := range st.OpenFiles {
		files = append(files, map[string]interface{}{
			"handle":   int64(f.Handle),
			"path":     f.Path,
			"length":   f.Length,
			"position": f.Position,
			"extents":  f.Extents,
		})
	}
	return map[string]interface{}{
		"session":       st.Session,
		"bootstrapped":  st.Bootstrapped,
		"cache_hits":    st.Cache.Hits,
		"cache_misses":  st.Cache.Misses,
		"cache_ratio":   st.Cache.HitRatio,
		"cached_blocks": st.CachedBlocks,
		"cache_size":    st.CacheSize,
		"total_blocks":  st.TotalBlocks,
		"unused_blocks": st.UnusedBlocks,
		"devices":       devices,
		"files":         files,
	}
}

func statHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatServer).Stat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: FullMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StatServer).Stat(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "lcfs.Stat",
	HandlerType: (*StatServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Stat",
			Handler:    statHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lcfs/stat.proto",
}

// Register adds the stat service to s.
func Register(s *grpc.Server, srv StatServer) {
	s.RegisterService(&serviceDesc, srv)
}

// Serve runs a grpc server with the stat service on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Infof("stat service listening on %s", lis.Addr())
	return s.grpc.Serve(lis)
}

// Stop stops the grpc server started by Serve.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}
