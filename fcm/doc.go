// Package fcm is the inbound side of the registrar: it receives the push
// callbacks a host's messaging runtime delivers and hands refreshed tokens to
// a registrar.Registrar.
//
// Hosts either call the callbacks directly or stream JSON events into Serve:
//
//	svc := fcm.NewService(reg, fcm.WithLogger(logger))
//	svc.OnNewToken(token)
//	err := svc.Serve(ctx, os.Stdin)
//
// Each line given to Serve is one event, either {"newToken":"..."} or
// {"message":{"from":"...","notification":{...},"data":{...}}}.
package fcm
