package pipeline

import (
	"time"

	"handscribe/pkg/types"
)

// Status builds a detailed status response for /status.
func (s *Service) Status() types.StatusResponse {
	now := time.Now()
	resp := types.StatusResponse{
		State:          "idle",
		Repo:           s.repo,
		UptimeSeconds:  int64(now.Sub(s.start).Seconds()),
		ServerTimeUnix: now.Unix(),
	}
	if res := s.loader.Resource(); res != nil {
		resp.State = "ready"
		resp.Device = &types.DeviceStatus{Kind: string(res.Device.Kind), Name: res.Device.Name, MemoryGB: res.Device.MemoryGB()}
		resp.Model = res.ModelPath
		resp.Projector = res.ProjectorPath
		resp.Precision = string(res.Precision)
		resp.Transfer = string(res.Transfer)
		resp.LoadSeconds = res.LoadDuration.Seconds()
		return resp
	}
	if s.loader.Loading() {
		resp.State = "loading"
	} else if err := s.loader.LastError(); err != nil {
		resp.State = "error"
		resp.LastError = err.Error()
	}
	return resp
}
