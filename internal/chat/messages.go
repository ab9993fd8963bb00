package chat

import (
	"encoding/json"
	"fmt"

	"github.com/Jam-Ngai/chatserver/internal/rpc"
	"github.com/Jam-Ngai/chatserver/internal/store"
)

type loginReq struct {
	UID   int    `json:"uid"`
	Token string `json:"token"`
}

type loginRsp struct {
	Error int `json:"error"`
	*store.User
	ApplyList  []store.Apply `json:"apply_list,omitempty"`
	FriendList []store.User  `json:"friend_list,omitempty"`
}

// searchReq looks a user up by id, or by name when UID is zero.
type searchReq struct {
	UID  int    `json:"uid"`
	Name string `json:"name"`
}

type userRsp struct {
	Error int `json:"error"`
	*store.User
}

type addFriendReq struct {
	UID       int    `json:"uid"`
	ApplyName string `json:"applyname"`
	BakName   string `json:"bakname"`
	ToUID     int    `json:"touid"`
}

type authFriendReq struct {
	FromUID int    `json:"fromuid"`
	ToUID   int    `json:"touid"`
	Back    string `json:"back"`
}

type errorRsp struct {
	Error int `json:"error"`
}

type textChatRsp struct {
	Error int `json:"error"`
	*rpc.TextChatMsgRequest
}

// shrink drops pending applications from the end first, then friends.
func (r *loginRsp) shrink() bool {
	switch {
	case len(r.ApplyList) > 0:
		r.ApplyList = r.ApplyList[:len(r.ApplyList)-1]
	case len(r.FriendList) > 0:
		r.FriendList = r.FriendList[:len(r.FriendList)-1]
	default:
		return false
	}
	return true
}

// shrink keeps the echo's addressing and drops the text. The request itself
// is shared with the routed notification and is not modified.
func (r *textChatRsp) shrink() bool {
	if r.TextChatMsgRequest == nil || r.TextMsgs == nil {
		return false
	}
	echo := *r.TextChatMsgRequest
	echo.TextMsgs = nil
	r.TextChatMsgRequest = &echo
	return true
}

// RenderNotification builds the frame a client receives for n, whether it
// was raised on this server or arrived from a peer.
func RenderNotification(n rpc.Notification) (uint16, []byte, error) {
	var (
		msgID uint16
		body  any
	)
	switch req := n.(type) {
	case *rpc.AddFriendRequest:
		msgID = rpc.MsgNotifyAddFriendReq
		body = struct {
			Error int `json:"error"`
			*rpc.AddFriendRequest
		}{rpc.ErrCodeSuccess, req}
	case *rpc.AuthFriendRequest:
		msgID = rpc.MsgNotifyAuthFriendReq
		body = struct {
			Error int `json:"error"`
			*rpc.AuthFriendRequest
		}{rpc.ErrCodeSuccess, req}
	case *rpc.TextChatMsgRequest:
		msgID = rpc.MsgNotifyTextChatReq
		body = textChatRsp{rpc.ErrCodeSuccess, req}
	default:
		return 0, nil, fmt.Errorf("chat: cannot render %T", n)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	return msgID, data, nil
}
