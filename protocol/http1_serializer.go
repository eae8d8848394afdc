package protocol

import (
	"strconv"
)

// AppendResponse appends the wire form of resp to dst.
func AppendResponse(dst []byte, resp *HttpResponse) []byte {
	dst = append(dst, resp.Version.String()...)
	dst = append(dst, ' ')
	dst = append(dst, resp.Status.String()...)
	dst = append(dst, "\r\n"...)

	dst = append(dst, "Content-Length: "...)
	dst = strconv.AppendInt(dst, int64(resp.ContentLength), 10)
	dst = append(dst, "\r\n"...)

	dst = append(dst, "Accept-Ranges: "...)
	dst = append(dst, resp.AcceptRanges.String()...)
	dst = append(dst, "\r\n"...)

	if resp.ContentRange != "" {
		dst = append(dst, "Content-Range: "...)
		dst = append(dst, resp.ContentRange...)
		dst = append(dst, "\r\n"...)
	}

	dst = append(dst, "X-Package-Name: "...)
	dst = append(dst, resp.PackageName...)
	dst = append(dst, "\r\n"...)

	dst = append(dst, "X-Package-Version: "...)
	dst = append(dst, resp.PackageVersion...)
	dst = append(dst, "\r\n\r\n"...)

	return append(dst, resp.Body...)
}

// Serialize renders resp into a freshly allocated byte slice
func Serialize(resp *HttpResponse) []byte {
	return AppendResponse(make([]byte, 0, 128+len(resp.Body)), resp)
}
