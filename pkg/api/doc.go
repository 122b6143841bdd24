/*
Package api exposes a canopy server over HTTP and gRPC.

# HTTP

HTTPServer serves:

	GET /health    liveness, 503 when a critical component is unhealthy
	GET /ready     readiness, 503 until the datastore and publisher are up
	GET /metrics   Prometheus metrics
	GET /data      committed data as JSON

The /data endpoint takes a datastore (config by default) and a path (the
datastore root by default). Reads go to the shard owning the path and
include the content of child shards below it:

	$ curl 'localhost:9090/data?datastore=config&path=/network'
	{"datastore":"config","path":"/network","value":{"eth0":{"mtu":1500}}}

# gRPC

GRPCServer serves the standard grpc.health.v1 service for the whole
server and for DatastoreService. Both report NOT_SERVING until the caller
marks the server serving, and again once Stop is called. Every call passes
through RecoveryInterceptor and LoggingInterceptor.
*/
package api
